package commands

import (
	"github.com/bancanet/banca/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for banca
var RootCmd = &cobra.Command{
	Use:              "banca",
	Short:            "banca network",
	TraverseChildren: true,
}
