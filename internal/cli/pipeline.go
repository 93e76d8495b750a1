package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPipelineCmd создаёт группу команд для управления pipelines.
func NewPipelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Manage pipelines",
	}

	cmd.AddCommand(
		newPipelineListCmd(clientFn, outputFn),
		newPipelineCreateCmd(clientFn, outputFn),
		newPipelineShowCmd(clientFn, outputFn),
		newPipelineDeleteCmd(clientFn, outputFn),
		newPipelineActionCmd(clientFn, outputFn, "deploy", "Deploy a pipeline",
			func(c *Client, id string) (*PipelineResponse, error) { return c.DeployPipeline(id) }),
		newPipelineActionCmd(clientFn, outputFn, "pause", "Pause input consumption",
			func(c *Client, id string) (*PipelineResponse, error) { return c.PausePipeline(id) }),
		newPipelineActionCmd(clientFn, outputFn, "resume", "Resume input consumption",
			func(c *Client, id string) (*PipelineResponse, error) { return c.ResumePipeline(id) }),
		newPipelineActionCmd(clientFn, outputFn, "shutdown", "Shut down the runtime process",
			func(c *Client, id string) (*PipelineResponse, error) { return c.ShutdownPipeline(id) }),
	)

	return cmd
}

var pipelineHeaders = []string{"ID", "NAME", "STATUS", "HANDLE", "ERROR"}

func pipelineRow(p *PipelineResponse) []string {
	return []string{p.ID, p.Name, p.Status, p.RuntimeHandle, p.Error}
}

func newPipelineListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipelines, err := client.ListPipelines(status)
			if err != nil {
				return err
			}

			rows := make([][]string, len(pipelines))
			for i := range pipelines {
				rows[i] = pipelineRow(&pipelines[i])
			}

			out.Print(pipelineHeaders, rows, pipelines)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (SHUTDOWN, PROVISIONING, RUNNING, PAUSED, FAILED)")

	return cmd
}

func newPipelineCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var programID string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipeline, err := client.CreatePipeline(CreatePipelineRequest{
				Name:      name,
				ProgramID: programID,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline created: %s", pipeline.ID))
			out.PrintOne(pipelineHeaders, pipelineRow(pipeline), pipeline)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Pipeline name (required)")
	cmd.Flags().StringVar(&programID, "program", "", "Program ID (required)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("program")

	return cmd
}

func newPipelineShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show pipeline details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipeline, err := client.GetPipeline(args[0])
			if err != nil {
				return err
			}

			out.PrintOne(pipelineHeaders, pipelineRow(pipeline), pipeline)
			return nil
		},
	}
}

func newPipelineDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a pipeline (SHUTDOWN only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeletePipeline(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline deleted: %s", args[0]))
			return nil
		},
	}
}

func newPipelineActionCmd(
	clientFn func() *Client,
	outputFn func() *Output,
	action, short string,
	call func(*Client, string) (*PipelineResponse, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   action + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipeline, err := call(client, args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline %s: %s", action, pipeline.Status))
			out.PrintOne(pipelineHeaders, pipelineRow(pipeline), pipeline)
			return nil
		},
	}
}
