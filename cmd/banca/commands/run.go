package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/bancanet/banca/src/banca"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a banca process group
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run process group",
		PreRunE: loadConfig,
		RunE:    runBanca,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runBanca(cmd *cobra.Command, args []string) error {
	engine := banca.NewBanca(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	// Run blocks while the HTTP service is up. With --no-service, the node
	// loops run in the background and we hold the process open until
	// interrupted.
	engine.Run()

	interruptCh := make(chan os.Signal, 1)
	signal.Notify(interruptCh, os.Interrupt, syscall.SIGTERM)
	<-interruptCh

	engine.Shutdown()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("moniker", _config.Moniker, "Name prefix for the nodes of this process")
	cmd.Flags().Int("branches", _config.Branches, "Number of branch nodes to start")

	// Relay
	cmd.Flags().StringP("relay-listen", "l", _config.RelayBindAddr, "Listen IP:Port for the fabric relay")
	cmd.Flags().StringP("relay-advertise", "a", _config.RelayAdvertiseAddr, "Advertise IP:Port for the fabric relay")
	cmd.Flags().StringSlice("relay-peers", _config.RelayPeers, "Relay IP:Port of the other processes")
	cmd.Flags().DurationP("relay-timeout", "t", _config.RelayTimeout, "Relay connection timeout")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Do not start the HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Node configuration
	cmd.Flags().Duration("discovery-interval", _config.DiscoveryInterval, "Backoff between directory lookups")
	cmd.Flags().Int("discovery-attempts", _config.DiscoveryAttempts, "Max directory lookups before giving up")
	cmd.Flags().Duration("request-timeout", _config.RequestTimeout, "Timeout of correlated requests")
	cmd.Flags().Duration("rate-tick", _config.RateTick, "Period of the exchange-rate random walk")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	addFileHooks(_config.Logger().Logger)

	_config.Logger().WithFields(logrus.Fields{
		"LogLevel":           _config.LogLevel,
		"Moniker":            _config.Moniker,
		"Branches":           _config.Branches,
		"NoService":          _config.NoService,
		"ServiceAddr":        _config.ServiceAddr,
		"RelayBindAddr":      _config.RelayBindAddr,
		"RelayAdvertiseAddr": _config.RelayAdvertiseAddr,
		"RelayPeers":         _config.RelayPeers,
		"MaxPool":            _config.MaxPool,
		"RelayTimeout":       _config.RelayTimeout,
		"DiscoveryInterval":  _config.DiscoveryInterval,
		"DiscoveryAttempts":  _config.DiscoveryAttempts,
		"RequestTimeout":     _config.RequestTimeout,
		"RateTick":           _config.RateTick,
	}).Debug("RUN")

	return nil
}

// addFileHooks tees info and debug output to log files next to the process.
func addFileHooks(logger *logrus.Logger) {
	pathMap := lfshook.PathMap{}

	_, err := os.OpenFile("banca_info.log", os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Info("Failed to open banca_info.log file, using default stderr")
	} else {
		pathMap[logrus.InfoLevel] = "banca_info.log"
	}

	_, err = os.OpenFile("banca_debug.log", os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Info("Failed to open banca_debug.log file, using default stderr")
	} else {
		pathMap[logrus.DebugLevel] = "banca_debug.log"
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in ./banca.toml (.json, .yaml also work)
	viper.SetConfigName("banca")
	viper.AddConfigPath(".")

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debug("No config file found")
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
