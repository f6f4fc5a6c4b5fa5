package main

import (
	"github.com/spf13/cobra"

	"github.com/NEXORA-Studios/NovaCL/internal/client"
	"github.com/NEXORA-Studios/NovaCL/internal/config"
)

var Version = "dev"

type globalFlags struct {
	configPath string
	server     string
	token      string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "novacl",
		Short:         "NovaCL is a segmented HTTP download service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&g.server, "server", "", "Server URL for remote commands (default $NOVACL_SERVER or "+client.DefaultServer+")")
	root.PersistentFlags().StringVar(&g.token, "token", "", "API token for remote commands (default $NOVACL_API_TOKEN)")

	root.AddCommand(
		newServeCmd(g),
		newGetCmd(g),
		newAddCmd(g),
		newListCmd(g),
		newStatusCmd(g),
		newControlCmd(g, "pause", "Pause a download", (*client.Client).Pause),
		newControlCmd(g, "resume", "Resume a paused download", (*client.Client).Resume),
		newControlCmd(g, "cancel", "Cancel a download and remove its partial file", (*client.Client).Cancel),
		newControlCmd(g, "purge", "Forget a finished download", (*client.Client).Purge),
		newWatchCmd(g),
	)
	return root
}

func (g *globalFlags) loadConfig() (config.Config, error) {
	return config.Load(g.configPath)
}

// client builds an API client; flags override the environment.
func (g *globalFlags) client() (*client.Client, error) {
	c, err := client.NewFromEnv()
	if err != nil {
		return nil, err
	}
	if g.server == "" && g.token == "" {
		return c, nil
	}
	server, token := g.server, g.token
	if server == "" {
		server = c.BaseURL().String()
	}
	if token == "" {
		token = c.Token()
	}
	return client.New(server, token, 0)
}
