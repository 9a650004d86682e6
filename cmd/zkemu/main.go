// Command zkemu drives an in-process zookeeper.Client from the shell, for
// poking at the emulator without wiring it into a test binary.
package main

import (
	"fmt"
	"os"

	"github.com/quantum-platinum/zkemu/zookeeper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var client *zookeeper.Client

func main() {
	root := &cobra.Command{
		Use:           "zkemu",
		Short:         "drive an in-process coordination-service emulator",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			client = zookeeper.NewClient()
			client.Start()
			return nil
		},
	}

	root.AddCommand(
		createCmd(),
		getCmd(),
		setCmd(),
		deleteCmd(),
		lsCmd(),
		statCmd(),
		commandCmd(),
	)

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("zkemu failed")
		os.Exit(1)
	}
}

func createCmd() *cobra.Command {
	var ephemeral, sequence, makepath bool
	cmd := &cobra.Command{
		Use:   "create <path> [data]",
		Short: "create a znode",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if len(args) == 2 {
				data = []byte(args[1])
			}
			created, err := client.Create(args[0], data, zookeeper.CreateOptions{
				Ephemeral: ephemeral,
				Sequence:  sequence,
				MakePath:  makepath,
			})
			if err != nil {
				return err
			}
			fmt.Println(created)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&ephemeral, "ephemeral", "e", false, "create an ephemeral node")
	cmd.Flags().BoolVarP(&sequence, "sequence", "s", false, "append a monotonic sequence suffix")
	cmd.Flags().BoolVarP(&makepath, "makepath", "p", false, "create missing ancestors")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "print a znode's data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, stat, err := client.Get(args[0], nil)
			if err != nil {
				return err
			}
			fmt.Printf("%s\nversion=%d czxid=%d mtime=%d\n", data, stat.Version, stat.Czxid, stat.Mtime)
			return nil
		},
	}
}

func setCmd() *cobra.Command {
	var version int32
	cmd := &cobra.Command{
		Use:   "set <path> <data>",
		Short: "replace a znode's data",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stat, err := client.Set(args[0], []byte(args[1]), version)
			if err != nil {
				return err
			}
			fmt.Printf("version=%d\n", stat.Version)
			return nil
		},
	}
	cmd.Flags().Int32Var(&version, "version", -1, "expected current version, -1 to skip the check")
	return cmd
}

func deleteCmd() *cobra.Command {
	var version int32
	var recursive bool
	cmd := &cobra.Command{
		Use:   "delete <path>",
		Short: "remove a znode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client.Delete(args[0], version, recursive)
		},
	}
	cmd.Flags().Int32Var(&version, "version", -1, "expected current version, -1 to skip the check")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "remove children first")
	return cmd
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "list a znode's children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			children, err := client.GetChildren(args[0], nil)
			if err != nil {
				return err
			}
			for _, name := range children {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "print a znode's Stat fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stat, err := client.Exists(args[0], nil)
			if err != nil {
				return err
			}
			if stat == nil {
				return fmt.Errorf("no such node: %s", args[0])
			}
			fmt.Printf("czxid=%d mzxid=%d version=%d cversion=%d aversion=%d ephemeralOwner=%d dataLength=%d numChildren=%d\n",
				stat.Czxid, stat.Mzxid, stat.Version, stat.Cversion, stat.Aversion,
				stat.EphemeralOwner, stat.DataLength, stat.NumChildren)
			return nil
		},
	}
}

func commandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "command <ruok|stat|envi|kill>",
		Short: "send a four-letter-word command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := client.Command([]byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
}
