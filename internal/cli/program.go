package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewProgramCmd создаёт группу команд для управления программами.
func NewProgramCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "program",
		Short: "Manage SQL programs",
	}

	cmd.AddCommand(
		newProgramListCmd(clientFn, outputFn),
		newProgramCreateCmd(clientFn, outputFn),
		newProgramShowCmd(clientFn, outputFn),
		newProgramUpdateCmd(clientFn, outputFn),
		newProgramDeleteCmd(clientFn, outputFn),
		newProgramCompileCmd(clientFn, outputFn),
		newProgramAttachmentsCmd(clientFn, outputFn),
		newProgramAttachCmd(clientFn, outputFn),
		newProgramDetachCmd(clientFn, outputFn),
	)

	return cmd
}

var programHeaders = []string{"ID", "NAME", "STATUS", "VERSION", "UPDATED"}

func programRow(p *ProgramResponse) []string {
	return []string{p.ID, p.Name, p.Status, strconv.Itoa(p.Version), p.UpdatedAt}
}

func newProgramListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			programs, err := client.ListPrograms()
			if err != nil {
				return err
			}

			rows := make([][]string, len(programs))
			for i := range programs {
				rows[i] = programRow(&programs[i])
			}

			out.Print(programHeaders, rows, programs)
			return nil
		},
	}
}

func newProgramCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var sourceFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new program from a SQL file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			source, err := os.ReadFile(sourceFile)
			if err != nil {
				return fmt.Errorf("failed to read source file: %w", err)
			}

			program, err := client.CreateProgram(CreateProgramRequest{
				Name:   name,
				Source: string(source),
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Program created: %s", program.ID))
			out.PrintOne(programHeaders, programRow(program), program)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Program name (required)")
	cmd.Flags().StringVar(&sourceFile, "source-file", "", "Path to SQL source file (required)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("source-file")

	return cmd
}

func newProgramShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var showSource bool

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show program details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			program, err := client.GetProgram(args[0])
			if err != nil {
				return err
			}

			out.PrintOne(programHeaders, programRow(program), program)
			if program.Diagnostics != "" {
				out.Error("compiler diagnostics:\n" + program.Diagnostics)
			}
			if showSource {
				fmt.Fprintln(os.Stdout, program.Source)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSource, "source", false, "Print program source")

	return cmd
}

func newProgramUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var sourceFile string
	var version int

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := UpdateProgramRequest{Version: version}
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("source-file") {
				data, err := os.ReadFile(sourceFile)
				if err != nil {
					return fmt.Errorf("failed to read source file: %w", err)
				}
				source := string(data)
				req.Source = &source
			}

			program, err := client.UpdateProgram(args[0], req)
			if err != nil {
				return err
			}

			out.Success("Program updated")
			out.PrintOne(programHeaders, programRow(program), program)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New program name")
	cmd.Flags().StringVar(&sourceFile, "source-file", "", "Path to new SQL source file")
	cmd.Flags().IntVar(&version, "version", 0, "Record version read by the client (required)")
	cmd.MarkFlagRequired("version")

	return cmd
}

func newProgramDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteProgram(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Program deleted: %s", args[0]))
			return nil
		},
	}
}

func newProgramCompileCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "compile ID",
		Short: "Request program compilation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			program, err := client.CompileProgram(args[0])
			if err != nil {
				return err
			}

			out.Success("Compilation requested")
			out.PrintOne(programHeaders, programRow(program), program)
			return nil
		},
	}
}

func newProgramAttachmentsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "attachments PROGRAM_ID",
		Short: "List program attachments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			attachments, err := client.ListAttachments(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "CONNECTOR_ID", "ROLE", "DIRECTION"}
			rows := make([][]string, len(attachments))
			for i, a := range attachments {
				rows[i] = []string{a.ID, a.ConnectorID, a.Role, a.RoleDirection}
			}

			out.Print(headers, rows, attachments)
			return nil
		},
	}
}

func newProgramAttachCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var connectorID string
	var role string
	var direction string

	cmd := &cobra.Command{
		Use:   "attach PROGRAM_ID",
		Short: "Attach a connector to a program role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			attachment, err := client.CreateAttachment(args[0], CreateAttachmentRequest{
				ConnectorID:   connectorID,
				Role:          role,
				RoleDirection: direction,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Attached: %s", attachment.ID))
			out.PrintOne(
				[]string{"ID", "CONNECTOR_ID", "ROLE", "DIRECTION"},
				[]string{attachment.ID, attachment.ConnectorID, attachment.Role, attachment.RoleDirection},
				attachment,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&connectorID, "connector", "", "Connector ID (required)")
	cmd.Flags().StringVar(&role, "role", "", "Program role name (required)")
	cmd.Flags().StringVar(&direction, "direction", "", "Role direction: INPUT or OUTPUT (required)")
	cmd.MarkFlagRequired("connector")
	cmd.MarkFlagRequired("role")
	cmd.MarkFlagRequired("direction")

	return cmd
}

func newProgramDetachCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "detach ATTACHMENT_ID",
		Short: "Detach a connector from a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteAttachment(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Detached: %s", args[0]))
			return nil
		},
	}
}
