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
	Use:   "phoenix-emitter",
	Short: "Phoenix emitter",
	Long: `Phoenix emitter broadcasts the emergency-locator beacon over BLE manufacturer-data advertisements
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
	viper.SetDefault("emitter.company_id", int(beacon.CompanyIDApple))
	viper.SetDefault("emitter.gps_valid_max_metres", 200.0)
	viper.SetDefault("emitter.fall_cooldown", time.Minute)

	viper.SetDefault("emitter.intervals.emergency", time.Second)
	viper.SetDefault("emitter.intervals.critical", 15*time.Second)
	viper.SetDefault("emitter.intervals.power_save", 10*time.Second)
	viper.SetDefault("emitter.intervals.active", 3*time.Second)
	viper.SetDefault("emitter.intervals.normal", 5*time.Second)

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
		viper.SetConfigName("phoenix-emitter")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/phoenix-emitter")
		viper.AddConfigPath("/etc/phoenix-emitter")
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
