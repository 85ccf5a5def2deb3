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
# When set to true, the emitter runs against the in-memory simulated
# platform adapters instead of a real BLE / sensor stack.
simulated={{ .General.Simulated }}


# Emitter settings.
[emitter]
# Device identity.
#
# 4-byte identity as a hex string (e.g. "deadbeef"). When left empty, a
# random identity is generated at every start.
device_id="{{ .Emitter.DeviceID }}"

# Company identifier used in the manufacturer-data frame.
#
# Platforms that refuse arbitrary identifiers should use 0x004C (76),
# platforms that prefer 0x0075 (117) should use that. Receivers accept
# both.
company_id={{ .Emitter.CompanyID }}

# Maximum GPS accuracy (metres) for which the advertised position is
# flagged valid.
gps_valid_max_metres={{ .Emitter.GPSValidMaxMetres }}

# Fall-detection latch window.
#
# Once a fall is detected the fall flag stays asserted for this long,
# regardless of live sensor data.
fall_cooldown="{{ .Emitter.FallCooldown }}"

  # Adaptive advertising cadence.
  #
  # First matching condition wins: emergency (sos / fall / unstable
  # environment), critical battery (<10%), power save (<20%), motion,
  # normal.
  [emitter.intervals]
  emergency="{{ .Emitter.Intervals.Emergency }}"
  critical="{{ .Emitter.Intervals.Critical }}"
  power_save="{{ .Emitter.Intervals.PowerSave }}"
  active="{{ .Emitter.Intervals.Active }}"
  normal="{{ .Emitter.Intervals.Normal }}"


# Integration settings.
[integration]

  # MQTT event integration.
  #
  # State-transition events are published as JSON when a broker is
  # configured. An empty server disables the integration.
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
# Bind address of the monitoring endpoint (e.g. 0.0.0.0:8070). Empty
# disables the endpoint.
bind="{{ .Monitoring.Bind }}"

# Expose Prometheus metrics at /metrics.
prometheus_endpoint={{ .Monitoring.PrometheusEndpoint }}

# Expose the healthcheck at /health.
healthcheck_endpoint={{ .Monitoring.HealthcheckEndpoint }}
`

var configCmd = &cobra.Command{
	Use:   "configfile",
	Short: "Print the Phoenix emitter configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := template.Must(template.New("config").Parse(configTemplate))
		err := t.Execute(os.Stdout, &config.C)
		if err != nil {
			return errors.Wrap(err, "execute config template error")
		}
		return nil
	},
}
