package setup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// CLI implements the "setup" subcommand of the MCP server.
type CLI struct {
	in  *bufio.Reader
	out io.Writer
}

// NewCLI creates a setup CLI reading confirmations from in and writing to out.
func NewCLI(in io.Reader, out io.Writer) *CLI {
	return &CLI{in: bufio.NewReader(in), out: out}
}

const help = `Usage:
  mcp-server setup register [--binary PATH] [--config FILE] [--data-dir DIR] [--client-config FILE] [--yes]
  mcp-server setup status [--client-config FILE]
`

// Run executes the setup command named by args[0].
func (c *CLI) Run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.out, help)
		return nil
	}

	switch args[0] {
	case "register":
		return c.register(args[1:])
	case "status":
		return c.status(args[1:])
	case "help", "--help", "-h":
		fmt.Fprint(c.out, help)
		return nil
	default:
		fmt.Fprint(c.out, help)
		return fmt.Errorf("unknown setup command %q", args[0])
	}
}

func (c *CLI) register(args []string) error {
	fs := pflag.NewFlagSet("register", pflag.ContinueOnError)
	fs.SetOutput(c.out)
	var opts Options
	fs.StringVar(&opts.BinaryPath, "binary", "", "server binary, default the running executable")
	fs.StringVar(&opts.ConfigFile, "config", "", "config.yaml passed to the server")
	fs.StringVar(&opts.DataDir, "data-dir", "", "directory for run logs")
	fs.StringVar(&opts.ClientConfigPath, "client-config", "", "client configuration file")
	yes := fs.BoolP("yes", "y", false, "do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if opts.BinaryPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("cannot determine server binary: %w", err)
		}
		opts.BinaryPath = execPath
	}

	target := opts.ClientConfigPath
	if target == "" {
		target, _ = DefaultClientConfigPath()
	}
	fmt.Fprintf(c.out, "Client config: %s\nServer binary: %s\n", target, opts.BinaryPath)
	if opts.ConfigFile != "" {
		fmt.Fprintf(c.out, "Config file: %s\n", opts.ConfigFile)
	}
	if opts.DataDir != "" {
		fmt.Fprintf(c.out, "Data directory: %s\n", opts.DataDir)
	}

	if !*yes {
		fmt.Fprint(c.out, "Proceed? [Y/n]: ")
		response, _ := c.in.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "" && response != "y" && response != "yes" {
			fmt.Fprintln(c.out, "Registration cancelled.")
			return nil
		}
	}

	path, err := Register(opts)
	if err != nil {
		return fmt.Errorf("failed to register server: %w", err)
	}

	fmt.Fprintf(c.out, "Registered %s in %s. Restart the client to load it.\n", ServerName, path)
	return nil
}

func (c *CLI) status(args []string) error {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	fs.SetOutput(c.out)
	clientConfig := fs.String("client-config", "", "client configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	status, err := CheckStatus(*clientConfig)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Client config: %s\n", status.ClientConfigPath)
	if status.Registered {
		fmt.Fprintf(c.out, "Registered: yes\nCommand: %s %s\n", status.Entry.Command, strings.Join(status.Entry.Args, " "))
	} else {
		fmt.Fprintln(c.out, "Registered: no")
	}
	for _, issue := range status.Issues {
		fmt.Fprintf(c.out, "Issue: %s\n", issue)
	}
	return nil
}
