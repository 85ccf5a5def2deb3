package cmd

import (
	"bytes"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Rocky43007/phoenix/internal/beacon"
	"github.com/Rocky43007/phoenix/internal/config"
)

var (
	cfgFile string
	version string
)

var rootCmd = &cobra.Command{
	Use:   "phoenix-receiver",
	Short: "Phoenix receiver",
	Long: `Phoenix receiver scans for emergency-locator beacons and guides towards a chosen emitter
	> source & copyright information: https://github.com/Rocky43007/phoenix`,
	RunE: run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to configuration file (optional)")
	rootCmd.PersistentFlags().Int("log-level", 4, "debug=5, info=4, error=2, fatal=1, panic=0")
	rootCmd.PersistentFlags().Bool("simulated", false, "use the in-memory simulated platform adapters")

	viper.BindPFlag("general.log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("general.simulated", rootCmd.PersistentFlags().Lookup("simulated"))

	// default values
	viper.SetDefault("receiver.accepted_company_ids", []int{
		int(beacon.CompanyIDApple),
		int(beacon.CompanyIDSamsung),
	})
	viper.SetDefault("receiver.stale_timeout", time.Minute)
	viper.SetDefault("receiver.tick_interval", 250*time.Millisecond)
	viper.SetDefault("receiver.rssi_history_size", 10)
	viper.SetDefault("receiver.rssi_outlier_arm_size", 5)
	viper.SetDefault("receiver.rssi_min_retained", 3)
	viper.SetDefault("receiver.location_history_size", 10)
	viper.SetDefault("receiver.location_history_min_step", 5.0)

	viper.SetDefault("finder.measured_power", -59.0)
	viper.SetDefault("finder.path_loss_exponent", 2.0)
	viper.SetDefault("finder.ble_fresh", 3*time.Second)
	viper.SetDefault("finder.distance_smoothing", 10)
	viper.SetDefault("finder.here_m", 0.5)
	viper.SetDefault("finder.near_m", 1.5)
	viper.SetDefault("finder.medium_m", 5.0)
	viper.SetDefault("finder.hysteresis_m", 0.15)
	viper.SetDefault("finder.compass_smoothing", 5)
	viper.SetDefault("finder.bearing_deadzone", 5.0)

	viper.SetDefault("integration.mqtt.event_topic_template", "phoenix/{{ .DeviceID }}/event/{{ .EventType }}")
	viper.SetDefault("integration.mqtt.clean_session", true)
	viper.SetDefault("integration.mqtt.max_reconnect_interval", time.Minute)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute executes the root command.
func Execute(v string) {
	version = v

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func initConfig() {
	config.Version = version

	if cfgFile != "" {
		b, err := os.ReadFile(cfgFile)
		if err != nil {
			log.WithError(err).WithField("config", cfgFile).Fatal("error loading config file")
		}
		viper.SetConfigType("toml")
		if err := viper.ReadConfig(bytes.NewBuffer(b)); err != nil {
			log.WithError(err).WithField("config", cfgFile).Fatal("error loading config file")
		}
	} else {
		viper.SetConfigName("phoenix-receiver")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/phoenix-receiver")
		viper.AddConfigPath("/etc/phoenix-receiver")
		if err := viper.ReadInConfig(); err != nil {
			switch err.(type) {
			case viper.ConfigFileNotFoundError:
				log.Warning("No configuration file found, using defaults.")
			default:
				log.WithError(err).Fatal("read configuration file error")
			}
		}
	}

	viperBindEnvs(config.C)

	viperHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := viper.Unmarshal(&config.C, viper.DecodeHook(viperHooks)); err != nil {
		log.WithError(err).Fatal("unmarshal config error")
	}
}

func viperBindEnvs(iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)
	for i := 0; i < ift.NumField(); i++ {
		v := ifv.Field(i)
		t := ift.Field(i)
		tv, ok := t.Tag.Lookup("mapstructure")
		if !ok {
			tv = strings.ToLower(t.Name)
		}
		if tv == "-" {
			continue
		}

		switch v.Kind() {
		case reflect.Struct:
			viperBindEnvs(v.Interface(), append(parts, tv)...)
		default:
			// Bash doesn't allow env variable names with a dot so
			// bind the double underscore version.
			keyDot := strings.Join(append(parts, tv), ".")
			keyUnderscore := strings.Join(append(parts, tv), "__")
			viper.BindEnv(keyDot, strings.ToUpper(keyUnderscore))
		}
	}
}
