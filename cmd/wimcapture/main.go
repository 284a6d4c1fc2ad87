// Command wimcapture is a thin CLI front end over the capture engine:
// it walks one or more POSIX source trees, builds an in-memory image,
// and reports what it captured. Writing the result out as a WIM
// container is out of scope (spec.md §1 puts the container codec
// itself outside this module), so this command's job ends at the
// in-memory ImageSet — the same boundary capture.AddImageMultiSource
// itself stops at.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gowim/gowim/capture"
	"github.com/gowim/gowim/capture/posix"
	"github.com/gowim/gowim/captureconfig"
	"github.com/gowim/gowim/lookup"
	"github.com/gowim/gowim/wimimage"
)

var (
	configPath string
	boot       bool
	unixData   bool
	verbose    bool
	dereference bool
	extraSources []string // "target=diskpath" pairs beyond the primary source
)

func main() {
	root := &cobra.Command{
		Use:   "wimcapture SOURCE IMAGE_NAME",
		Short: "Capture a directory tree into an in-memory WIM image",
		Args:  cobra.ExactArgs(2),
		RunE:  runCapture,
	}
	root.Flags().StringVar(&configPath, "config", "", "capture-config file (default: built-in ExclusionList)")
	root.Flags().BoolVar(&boot, "boot", false, "mark the captured image as the boot image")
	root.Flags().BoolVar(&unixData, "unix-data", false, "capture POSIX extended attributes as security data")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every scanned path and whether it was excluded")
	root.Flags().BoolVar(&dereference, "dereference", false, "follow symlinks instead of capturing them as reparse points")
	root.Flags().StringArrayVar(&extraSources, "source", nil, "additional TARGET=DISKPATH source to overlay (repeatable)")

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("wimcapture failed")
		os.Exit(1)
	}
}

func runCapture(cmd *cobra.Command, args []string) error {
	diskPath, imageName := args[0], args[1]

	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg := captureconfig.Default(true)
	cfg.Prefix = diskPath
	if configPath != "" {
		buf, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("reading capture config: %w", err)
		}
		parsed, err := captureconfig.Parse(buf, true)
		if err != nil {
			return fmt.Errorf("parsing capture config: %w", err)
		}
		parsed.Prefix = diskPath
		cfg = parsed
	}

	var flags capture.Flags
	if unixData {
		flags |= capture.FlagUnixData
	}
	if dereference {
		flags |= capture.FlagDereference
	}
	if verbose {
		flags |= capture.FlagVerbose
	}
	if boot {
		flags |= capture.FlagBoot
	}

	src := posix.New(unixData)
	table := lookup.NewTable()
	images := wimimage.NewImageSet(table)

	specs, err := buildSpecs(diskPath, extraSources)
	if err != nil {
		return err
	}

	var img *wimimage.Image
	if len(specs) == 1 {
		img, err = capture.AddImage(images, src, table, diskPath, imageName, cfg, flags)
	} else {
		img, err = capture.AddImageMultiSource(images, src, table, specs, imageName, cfg, flags)
	}
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "captured image %q: %d top-level entries, %d distinct streams in lookup table\n",
		img.Name, len(img.Root.Children()), table.Len())
	return nil
}

func buildSpecs(primary string, extra []string) ([]capture.SourceSpec, error) {
	specs := []capture.SourceSpec{{DiskPath: primary, TargetPath: "/"}}
	for _, e := range extra {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("--source must be TARGET=DISKPATH, got %q", e)
		}
		specs = append(specs, capture.SourceSpec{TargetPath: parts[0], DiskPath: parts[1]})
	}
	return specs, nil
}
