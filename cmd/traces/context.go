package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"traceapi/internal/client"
	"traceapi/internal/config"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string
	outputFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag, outputFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
		outputFlag: outputFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) outputFormat() string {
	if c.outputFlag == nil {
		return outputText
	}
	return strings.ToLower(strings.TrimSpace(*c.outputFlag))
}

func (c *commandContext) apiAddress() string {
	if c.apiFlag != nil {
		if flag := strings.TrimSpace(*c.apiFlag); flag != "" {
			return flag
		}
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return cfg.Paths.APIBind
	}
	return ""
}

func (c *commandContext) withClient(fn func(*client.Client) error) error {
	addr := c.apiAddress()
	cl, err := client.New(addr)
	if err != nil {
		return err
	}
	return wrapConnectError(fn(cl), addr)
}

func wrapConnectError(err error, addr string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon: %s refused the connection; start the daemon with `traces serve`", addr)
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", value)
	}
	return id, nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
