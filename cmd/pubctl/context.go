package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/pkg/client"
	"github.com/spf13/cobra"
)

type commandContext struct {
	serverFlag *string
	keyFlag    *string
	jsonFlag   *bool

	clientOnce sync.Once
	client     *client.Client
	clientErr  error
}

func newCommandContext(serverFlag, keyFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{serverFlag: serverFlag, keyFlag: keyFlag, jsonFlag: jsonFlag}
}

func (c *commandContext) apiClient() (*client.Client, error) {
	c.clientOnce.Do(func() {
		key := strings.TrimSpace(*c.keyFlag)
		if key == "" {
			c.clientErr = fmt.Errorf("no API key: pass --api-key or set PUBLISHQ_API_KEY")
			return
		}
		c.client, c.clientErr = client.New(*c.serverFlag, key)
	})
	return c.client, c.clientErr
}

func (c *commandContext) withClient(fn func(*client.Client) error) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	return fn(cl)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(arg))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q", arg)
	}
	return id, nil
}

func parseOptionalID(flag, v string) (*uuid.UUID, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("--%s must be a UUID", flag)
	}
	return &id, nil
}
