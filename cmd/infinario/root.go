package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/five82/infinario/internal/app"
	"github.com/five82/infinario/internal/config"
	"github.com/five82/infinario/transport"
)

const (
	configKey     = "config"
	tokenKey      = "token"
	endpointKey   = "endpoint"
	proxyKey      = "proxy"
	customerIDKey = "customer-id"
	timeoutKey    = "timeout"
	waitKey       = "wait"
	logLevelKey   = "log-level"

	defaultWait = time.Minute
)

// cli carries what every subcommand shares.
type cli struct {
	v      *viper.Viper
	logger pslog.Logger
	// transport replaces HTTP in tests.
	transport transport.Transport
}

func newRootCommand(c *cli) *cobra.Command {
	if c.logger == nil {
		c.logger = pslog.NoopLogger()
	}
	c.v = viper.New()

	cmd := &cobra.Command{
		Use:           "infinario",
		Short:         "Send customer and event commands to an Infinario collector",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String(configKey, "", "config file path (default "+config.DefaultPath()+")")
	flags.String(tokenKey, "", "project token")
	flags.String(endpointKey, "", "collector endpoint URL")
	flags.String(proxyKey, "", "HTTP proxy as host:port or URL")
	flags.String(customerIDKey, "", "registered customer id to send commands as")
	flags.Duration(timeoutKey, 0, "per-request timeout (default from config)")
	flags.Duration(waitKey, defaultWait, "how long to wait for delivery before giving up")
	flags.String(logLevelKey, "", "log level (trace|debug|info|warn|error)")

	mustBindFlag(c.v, configKey, "INFINARIO_CONFIG", flags.Lookup(configKey))
	mustBindFlag(c.v, tokenKey, "INFINARIO_TOKEN", flags.Lookup(tokenKey))
	mustBindFlag(c.v, endpointKey, "INFINARIO_ENDPOINT", flags.Lookup(endpointKey))
	mustBindFlag(c.v, proxyKey, "INFINARIO_PROXY", flags.Lookup(proxyKey))
	mustBindFlag(c.v, customerIDKey, "INFINARIO_CUSTOMER_ID", flags.Lookup(customerIDKey))
	mustBindFlag(c.v, timeoutKey, "INFINARIO_TIMEOUT", flags.Lookup(timeoutKey))
	mustBindFlag(c.v, waitKey, "INFINARIO_WAIT", flags.Lookup(waitKey))
	mustBindFlag(c.v, logLevelKey, "", flags.Lookup(logLevelKey))

	cmd.AddCommand(
		newIdentifyCommand(c),
		newUpdateCommand(c),
		newTrackCommand(c),
		newVersionCommand(),
	)
	return cmd
}

func mustBindFlag(v *viper.Viper, key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := v.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

// loadConfig reads the config file and applies flag and environment
// overrides on top.
func (c *cli) loadConfig() (config.Config, error) {
	cfg, err := config.Load(c.v.GetString(configKey))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if v := strings.TrimSpace(c.v.GetString(tokenKey)); v != "" {
		cfg.ProjectToken = v
	}
	if v := strings.TrimSpace(c.v.GetString(endpointKey)); v != "" {
		cfg.Endpoint = v
	}
	if v := strings.TrimSpace(c.v.GetString(proxyKey)); v != "" {
		cfg.Proxy = v
	}
	if v := strings.TrimSpace(c.v.GetString(customerIDKey)); v != "" {
		cfg.CustomerID = v
	}
	if d := c.v.GetDuration(timeoutKey); d > 0 {
		cfg.Timeout = d
	}
	return cfg, cfg.Validate()
}

func (c *cli) commandLogger() (pslog.Logger, error) {
	raw := strings.TrimSpace(c.v.GetString(logLevelKey))
	if raw == "" {
		return c.logger, nil
	}
	level, ok := pslog.ParseLevel(raw)
	if !ok {
		return nil, fmt.Errorf("invalid log level %q", raw)
	}
	return c.logger.LogLevel(level), nil
}

// run opens a session, lets issue queue commands, then waits for delivery
// and reports a summary.
func (c *cli) run(cmd *cobra.Command, issue func(*app.Session)) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	logger, err := c.commandLogger()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	session, err := app.Open(ctx, app.Options{
		Config:    cfg,
		Logger:    logger,
		Out:       cmd.OutOrStdout(),
		Transport: c.transport,
	})
	if err != nil {
		return err
	}

	issue(session)

	wait := c.v.GetDuration(waitKey)
	if wait <= 0 {
		wait = defaultWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	waitErr := session.Wait(waitCtx)
	closeErr := session.Close()

	stats := session.Stats()
	fmt.Fprintf(cmd.ErrOrStderr(), "%d sent, %d failed, %d killed, %s received\n",
		stats.Succeeded, stats.Failed, stats.Killed, humanize.Bytes(uint64(stats.BytesReceived)))

	switch {
	case waitErr != nil:
		return waitErr
	case closeErr != nil:
		return closeErr
	case session.Unconfirmed() > 0:
		return fmt.Errorf("%d of %d commands not confirmed", session.Unconfirmed(), stats.Completed)
	}
	return nil
}
