package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/legio-dev/legio/internal/state"
	"github.com/legio-dev/legio/internal/style"
)

var (
	agentsCapability string
	agentsAll        bool
)

var agentsCmd = &cobra.Command{
	Use:     "agents",
	GroupID: GroupLifecycle,
	Short:   "Discover capabilities and live agents",
}

var agentsDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List available capabilities and the agents running them",
	Long: `List the capability set, marking capabilities with a definition file
under .legio/agent-defs, together with the active agents per
capability. --all includes ended sessions.`,
	Args: cobra.NoArgs,
	RunE: runAgentsDiscover,
}

func init() {
	agentsDiscoverCmd.Flags().StringVar(&agentsCapability, "capability", "", "Limit to one capability")
	agentsDiscoverCmd.Flags().BoolVar(&agentsAll, "all", false, "Include ended sessions")
	agentsCmd.AddCommand(agentsDiscoverCmd)
	rootCmd.AddCommand(agentsCmd)
}

type capabilityInfo struct {
	Capability state.Capability `json:"capability"`
	HasDef     bool             `json:"hasDef"`
	Agents     []*state.Session `json:"agents"`
}

func runAgentsDiscover(cmd *cobra.Command, args []string) error {
	paths, _, err := loadProject()
	if err != nil {
		return err
	}

	var sessions []*state.Session
	if store, err := state.Open(paths.SessionsDB()); err == nil {
		store.SetLegacyPath(paths.LegacySessionsFile())
		if agentsAll {
			sessions, _ = store.All()
		} else {
			sessions, _ = store.Active()
		}
		store.Close()
	}

	byCapability := make(map[state.Capability][]*state.Session)
	for _, sess := range sessions {
		byCapability[sess.Capability] = append(byCapability[sess.Capability], sess)
	}

	var infos []capabilityInfo
	for _, capability := range state.Capabilities {
		if agentsCapability != "" && string(capability) != agentsCapability {
			continue
		}
		defPath := filepath.Join(paths.AgentDefs(), string(capability)+".md")
		_, defErr := os.Stat(defPath)
		infos = append(infos, capabilityInfo{
			Capability: capability,
			HasDef:     defErr == nil,
			Agents:     byCapability[capability],
		})
	}

	if jsonOutput {
		return printJSON(infos)
	}
	for _, info := range infos {
		def := style.Dim.Render("no def")
		if info.HasDef {
			def = style.Success.Render("def")
		}
		var names []string
		for _, sess := range info.Agents {
			names = append(names, fmt.Sprintf("%s(%s)", sess.Name, sess.State))
		}
		fmt.Printf("%-12s %-8s %s\n", info.Capability, def, strings.Join(names, " "))
	}
	return nil
}
