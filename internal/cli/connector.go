package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewConnectorCmd создаёт группу команд для управления коннекторами.
func NewConnectorCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connector",
		Short: "Manage connectors",
	}

	cmd.AddCommand(
		newConnectorListCmd(clientFn, outputFn),
		newConnectorCreateCmd(clientFn, outputFn),
		newConnectorShowCmd(clientFn, outputFn),
		newConnectorUpdateCmd(clientFn, outputFn),
		newConnectorDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

var connectorHeaders = []string{"ID", "NAME", "DIRECTION", "TRANSPORT", "VERSION"}

func connectorRow(c *ConnectorResponse) []string {
	return []string{c.ID, c.Name, c.Direction, c.Transport, strconv.Itoa(c.Version)}
}

func newConnectorListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all connectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			connectors, err := client.ListConnectors()
			if err != nil {
				return err
			}

			rows := make([][]string, len(connectors))
			for i := range connectors {
				rows[i] = connectorRow(&connectors[i])
			}

			out.Print(connectorHeaders, rows, connectors)
			return nil
		},
	}
}

// readConfigFile читает и парсит JSON-конфигурацию транспорта.
func readConfigFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config map[string]any
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("config file is not valid JSON: %w", err)
	}
	return config, nil
}

func newConnectorCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var direction string
	var transport string
	var configFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new connector",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			config, err := readConfigFile(configFile)
			if err != nil {
				return err
			}

			connector, err := client.CreateConnector(CreateConnectorRequest{
				Name:      name,
				Direction: direction,
				Transport: transport,
				Config:    config,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Connector created: %s", connector.ID))
			out.PrintOne(connectorHeaders, connectorRow(connector), connector)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Connector name (required)")
	cmd.Flags().StringVar(&direction, "direction", "", "Direction: INPUT, OUTPUT or INPUT_OUTPUT (required)")
	cmd.Flags().StringVar(&transport, "transport", "", "Transport kind, e.g. broker_in (required)")
	cmd.Flags().StringVar(&configFile, "config-file", "", "Path to transport config JSON file (required)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("direction")
	cmd.MarkFlagRequired("transport")
	cmd.MarkFlagRequired("config-file")

	return cmd
}

func newConnectorShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show connector details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			connector, err := client.GetConnector(args[0])
			if err != nil {
				return err
			}

			out.PrintOne(connectorHeaders, connectorRow(connector), connector)
			return nil
		},
	}
}

func newConnectorUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var configFile string
	var version int

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a connector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := UpdateConnectorRequest{Version: version}
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("config-file") {
				config, err := readConfigFile(configFile)
				if err != nil {
					return err
				}
				req.Config = &config
			}

			connector, err := client.UpdateConnector(args[0], req)
			if err != nil {
				return err
			}

			out.Success("Connector updated")
			out.PrintOne(connectorHeaders, connectorRow(connector), connector)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New connector name")
	cmd.Flags().StringVar(&configFile, "config-file", "", "Path to new transport config JSON file")
	cmd.Flags().IntVar(&version, "version", 0, "Record version read by the client (required)")
	cmd.MarkFlagRequired("version")

	return cmd
}

func newConnectorDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a connector and detach it everywhere",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteConnector(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Connector deleted: %s", args[0]))
			return nil
		},
	}
}
