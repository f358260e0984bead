package cmd

import (
	"github.com/spf13/cobra"
	"github.com/swarmd/swarmd/client"
	"github.com/swarmd/swarmd/std/utils"
)

const banner = `
                                      _
  _____      ____ _ _ __ _ __ ___   __| |
 / __\ \ /\ / / _  | '__| '_ ' _ \ / _  |
 \__ \\ V  V / (_| | |  | | | | | | (_| |
 |___/ \_/\_/ \__,_|_|  |_| |_| |_|\__,_|

Swarm Messaging Client
`

var CmdSwarmd = &cobra.Command{
	Use:     "swarmd",
	Short:   "Swarm Messaging Client",
	Long:    banner[1:],
	Version: utils.SwarmdVersion,
}

func init() {
	cobra.EnableCommandSorting = false
	CmdSwarmd.Root().CompletionOptions.HiddenDefaultCmd = true
	CmdSwarmd.PersistentFlags().BoolP("help", "h", false, "Print usage")
	CmdSwarmd.PersistentFlags().Lookup("help").Hidden = true

	CmdSwarmd.AddGroup(&cobra.Group{ID: "run", Title: "Client Daemon"})
	CmdSwarmd.AddGroup(&cobra.Group{ID: "tools", Title: "Network Tools"})
	for _, sub := range client.Cmds() {
		CmdSwarmd.AddCommand(sub)
	}
}
