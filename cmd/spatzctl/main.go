// spatzctl inspects a spatzd persistence database: the key/value table of
// JSON blobs a running daemon saves to and restores from on shutdown/start.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/peasec/spatz/internal/persistence"
)

var (
	dbPath string

	rootCmd = &cobra.Command{
		Use:   "spatzctl",
		Short: "spatzctl database inspection CLI",
		Long:  "Command-line tool for inspecting a spatzd persistence database.",
	}

	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "List the data keys currently present in the store",
		RunE:  listKeys,
	}

	dumpCmd = &cobra.Command{
		Use:   "dump [key]",
		Short: "Print the raw JSON blob for a data key (default: all keys)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  dumpKey,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "/var/lib/spatz/spatzd.db", "Database file path")
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(dumpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (*persistence.Store, error) {
	return persistence.Open(dbPath)
}

func listKeys(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := store.Keys()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tBYTES")
	fmt.Fprintln(w, "---\t----\t-----")
	for _, k := range keys {
		blob, ok, err := store.Raw(k)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%d\n", int(k), k, len(blob))
	}
	return w.Flush()
}

func dumpKey(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	keys, err := resolveKeys(args)
	if err != nil {
		return err
	}

	for _, k := range keys {
		blob, ok, err := store.Raw(k)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("%s: (not present)\n", k)
			continue
		}
		fmt.Printf("%s:\n", k)
		if err := printIndented(blob); err != nil {
			fmt.Println(blob)
		}
	}
	return nil
}

// resolveKeys parses the optional [key] argument, accepting either the
// numeric DataKey or its String() name, and defaults to every known key
// when none is given.
func resolveKeys(args []string) ([]persistence.DataKey, error) {
	all := []persistence.DataKey{
		persistence.Configuration,
		persistence.RelayMessages,
		persistence.MessageBuffers,
		persistence.DutyCycleData,
		persistence.PacketCacheData,
	}
	if len(args) == 0 {
		return all, nil
	}

	arg := args[0]
	if n, err := strconv.Atoi(arg); err == nil {
		for _, k := range all {
			if int(k) == n {
				return []persistence.DataKey{k}, nil
			}
		}
		return nil, fmt.Errorf("spatzctl: no such data key %d", n)
	}
	for _, k := range all {
		if strings.EqualFold(k.String(), arg) {
			return []persistence.DataKey{k}, nil
		}
	}
	return nil, fmt.Errorf("spatzctl: no such data key %q", arg)
}

func printIndented(blob string) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(blob), "  ", "  "); err != nil {
		return err
	}
	fmt.Println("  " + buf.String())
	return nil
}
