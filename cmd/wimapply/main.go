// Command wimapply demonstrates the apply half of the pipeline: since
// reading a previously-serialized WIM container is out of scope for
// this module (spec.md §1), this command captures SOURCE in memory
// and immediately applies the resulting image onto DEST through
// ntfsapply/posixvolume, exercising capture.AddImage, ntfsapply.Apply,
// and the NTFS-3G-volume stand-in in a single, real round trip.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gowim/gowim/capture"
	"github.com/gowim/gowim/capture/posix"
	"github.com/gowim/gowim/captureconfig"
	"github.com/gowim/gowim/lookup"
	"github.com/gowim/gowim/ntfsapply"
	"github.com/gowim/gowim/ntfsapply/posixvolume"
	"github.com/gowim/gowim/wimimage"
)

var (
	unixData bool
	verbose  bool
)

func main() {
	root := &cobra.Command{
		Use:   "wimapply SOURCE DEST",
		Short: "Capture SOURCE in memory and apply the image onto DEST",
		Args:  cobra.ExactArgs(2),
		RunE:  runApply,
	}
	root.Flags().BoolVar(&unixData, "unix-data", false, "carry POSIX extended attributes through as security data")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every scanned path and whether it was excluded")

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("wimapply failed")
		os.Exit(1)
	}
}

func runApply(cmd *cobra.Command, args []string) error {
	source, dest := args[0], args[1]

	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	info, err := os.Stat(dest)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("DEST %q must already exist and be a directory (it stands in for an existing NTFS volume root)", dest)
	}

	cfg := captureconfig.Default(true)
	cfg.Prefix = source

	var flags capture.Flags
	if unixData {
		flags |= capture.FlagUnixData
	}
	if verbose {
		flags |= capture.FlagVerbose
	}

	src := posix.New(unixData)
	table := lookup.NewTable()
	images := wimimage.NewImageSet(table)

	img, err := capture.AddImage(images, src, table, source, "apply", cfg, flags)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	vol := posixvolume.New(dest)
	if err := ntfsapply.Apply(vol, images, 0, 0); err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "applied image %q (%d top-level entries) onto %s\n",
		img.Name, len(img.Root.Children()), dest)
	return nil
}
