package cmd

import (
	"os"
	"text/template"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Rocky43007/phoenix/internal/config"
)

const configTemplate = `[general]
# Log level
#
# debug=5, info=4, warning=3, error=2, fatal=1, panic=0
log_level={{ .General.LogLevel }}

# Simulated platform.
#
# When set to true, the receiver runs against the in-memory simulated
# platform adapters instead of a real BLE stack.
simulated={{ .General.Simulated }}


# Receiver settings.
[receiver]
# Company identifiers accepted on decode.
#
# 0x004C (76) and 0x0075 (117) are the identifiers Phoenix emitters
# advertise with. Additions beyond these must be explicit.
accepted_company_ids=[{{ range $i, $id := .Receiver.AcceptedCompanyIDs }}{{ if $i }}, {{ end }}{{ $id }}{{ end }}]

# Emitter records without an advertisement for this long are evicted on
# the receiver tick.
stale_timeout="{{ .Receiver.StaleTimeout }}"

# Receiver tick interval (stale eviction, UI refresh).
tick_interval="{{ .Receiver.TickInterval }}"

# RSSI smoothing.
#
# The smoothed RSSI is an outlier-rejecting weighted moving average over
# the most recent samples. Outlier rejection arms once
# rssi_outlier_arm_size samples are present and keeps at least
# rssi_min_retained samples.
rssi_history_size={{ .Receiver.RSSIHistorySize }}
rssi_outlier_arm_size={{ .Receiver.RSSIOutlierArmSize }}
rssi_min_retained={{ .Receiver.RSSIMinRetained }}

# Location history.
#
# A GPS point is retained when it moved more than
# location_history_min_step metres from the previous retained point.
location_history_size={{ .Receiver.LocationHistorySize }}
location_history_min_step={{ .Receiver.LocationHistoryMinStep }}


# Precision finder settings.
[finder]
# Log-distance path-loss model: the RSSI expected at one metre and the
# path-loss exponent.
measured_power={{ .Finder.MeasuredPower }}
path_loss_exponent={{ .Finder.PathLossExponent }}

# Age up to which the BLE link is considered fresh; beyond it the finder
# falls back to GPS distances.
ble_fresh="{{ .Finder.BLEFresh }}"

# Number of distance samples in the smoothing window.
distance_smoothing={{ .Finder.DistanceSmoothing }}

# Proximity-level thresholds (metres) and the hysteresis margin applied
# when moving to a farther level.
here_m={{ .Finder.HereM }}
near_m={{ .Finder.NearM }}
medium_m={{ .Finder.MediumM }}
hysteresis_m={{ .Finder.HysteresisM }}

# Compass smoothing window and the bearing deadzone (degrees) below
# which the displayed bearing holds.
compass_smoothing={{ .Finder.CompassSmoothing }}
bearing_deadzone={{ .Finder.BearingDeadzone }}


# Integration settings.
[integration]

  # MQTT event integration.
  #
  # Beacon updates, record evictions and state-transition events are
  # published as JSON when a broker is configured. An empty server
  # disables the integration.
  [integration.mqtt]
  server="{{ .Integration.MQTT.Server }}"
  username="{{ .Integration.MQTT.Username }}"
  password="{{ .Integration.MQTT.Password }}"
  qos={{ .Integration.MQTT.QOS }}
  clean_session={{ .Integration.MQTT.CleanSession }}
  client_id="{{ .Integration.MQTT.ClientID }}"
  ca_cert="{{ .Integration.MQTT.CACert }}"
  tls_cert="{{ .Integration.MQTT.TLSCert }}"
  tls_key="{{ .Integration.MQTT.TLSKey }}"
  event_topic_template="{{ .Integration.MQTT.EventTopicTemplate }}"
  max_reconnect_interval="{{ .Integration.MQTT.MaxReconnectInterval }}"


# Monitoring settings.
[monitoring]
# Bind address of the monitoring endpoint (e.g. 0.0.0.0:8071). Empty
# disables the endpoint.
bind="{{ .Monitoring.Bind }}"

# Expose Prometheus metrics at /metrics.
prometheus_endpoint={{ .Monitoring.PrometheusEndpoint }}

# Expose the healthcheck at /health.
healthcheck_endpoint={{ .Monitoring.HealthcheckEndpoint }}
`

var configCmd = &cobra.Command{
	Use:   "configfile",
	Short: "Print the Phoenix receiver configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := template.Must(template.New("config").Parse(configTemplate))
		err := t.Execute(os.Stdout, &config.C)
		if err != nil {
			return errors.Wrap(err, "execute config template error")
		}
		return nil
	},
}
