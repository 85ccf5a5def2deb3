package config

import (
	"time"
)

// Version defines the Phoenix version.
var Version string

// Config defines the configuration structure.
type Config struct {
	General struct {
		LogLevel  int  `mapstructure:"log_level"`
		Simulated bool `mapstructure:"simulated"`
	} `mapstructure:"general"`

	Emitter struct {
		// DeviceID is the 4-byte device identity as a hex string
		// (e.g. "deadbeef"). When empty, a random identity is generated
		// at startup.
		DeviceID string `mapstructure:"device_id"`

		// CompanyID is the manufacturer-data company identifier used
		// for advertising. Platforms that refuse arbitrary identifiers
		// should use 0x004C.
		CompanyID uint16 `mapstructure:"company_id"`

		GPSValidMaxMetres float64       `mapstructure:"gps_valid_max_metres"`
		FallCooldown      time.Duration `mapstructure:"fall_cooldown"`

		Intervals struct {
			Emergency time.Duration `mapstructure:"emergency"`
			Critical  time.Duration `mapstructure:"critical"`
			PowerSave time.Duration `mapstructure:"power_save"`
			Active    time.Duration `mapstructure:"active"`
			Normal    time.Duration `mapstructure:"normal"`
		} `mapstructure:"intervals"`
	} `mapstructure:"emitter"`

	Receiver struct {
		// AcceptedCompanyIDs contains the company identifiers accepted
		// on decode. Additions beyond the defaults must be explicit.
		AcceptedCompanyIDs []uint16 `mapstructure:"accepted_company_ids"`

		StaleTimeout time.Duration `mapstructure:"stale_timeout"`
		TickInterval time.Duration `mapstructure:"tick_interval"`

		RSSIHistorySize    int `mapstructure:"rssi_history_size"`
		RSSIOutlierArmSize int `mapstructure:"rssi_outlier_arm_size"`
		RSSIMinRetained    int `mapstructure:"rssi_min_retained"`

		LocationHistorySize    int     `mapstructure:"location_history_size"`
		LocationHistoryMinStep float64 `mapstructure:"location_history_min_step"`
	} `mapstructure:"receiver"`

	Finder struct {
		MeasuredPower     float64       `mapstructure:"measured_power"`
		PathLossExponent  float64       `mapstructure:"path_loss_exponent"`
		BLEFresh          time.Duration `mapstructure:"ble_fresh"`
		DistanceSmoothing int           `mapstructure:"distance_smoothing"`

		HereM       float64 `mapstructure:"here_m"`
		NearM       float64 `mapstructure:"near_m"`
		MediumM     float64 `mapstructure:"medium_m"`
		HysteresisM float64 `mapstructure:"hysteresis_m"`

		CompassSmoothing int     `mapstructure:"compass_smoothing"`
		BearingDeadzone  float64 `mapstructure:"bearing_deadzone"`
	} `mapstructure:"finder"`

	Integration struct {
		MQTT struct {
			Server               string        `mapstructure:"server"`
			Username             string        `mapstructure:"username"`
			Password             string        `mapstructure:"password"`
			QOS                  uint8         `mapstructure:"qos"`
			CleanSession         bool          `mapstructure:"clean_session"`
			ClientID             string        `mapstructure:"client_id"`
			CACert               string        `mapstructure:"ca_cert"`
			TLSCert              string        `mapstructure:"tls_cert"`
			TLSKey               string        `mapstructure:"tls_key"`
			EventTopicTemplate   string        `mapstructure:"event_topic_template"`
			MaxReconnectInterval time.Duration `mapstructure:"max_reconnect_interval"`
		} `mapstructure:"mqtt"`
	} `mapstructure:"integration"`

	Monitoring struct {
		Bind                string `mapstructure:"bind"`
		PrometheusEndpoint  bool   `mapstructure:"prometheus_endpoint"`
		HealthcheckEndpoint bool   `mapstructure:"healthcheck_endpoint"`
	} `mapstructure:"monitoring"`
}

// C holds the global configuration.
var C Config
