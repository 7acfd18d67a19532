package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hupe1980/tasm"
	"github.com/hupe1980/tasm/codec"
)

var (
	root        string
	compression string
	gopLength   int
	verbose     bool
	remote      remoteFlags
)

var rootCmd = &cobra.Command{
	Use:   "tasm",
	Short: "Tiled video storage manager",
	Long:  `A command-line interface for storing videos as tiles and querying the objects in them.`,
}

func openDB(ctx context.Context) (*tasm.TASM, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	ct := codec.CompressionZSTD
	switch compression {
	case "zstd":
	case "lz4":
		ct = codec.CompressionLZ4
	case "none":
		ct = codec.CompressionNone
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}

	opts := []tasm.Option{
		tasm.WithRoot(root),
		tasm.WithCompression(ct),
		tasm.WithLogger(tasm.NewTextLogger(level)),
	}
	if gopLength > 0 {
		opts = append(opts, tasm.WithGOPLength(gopLength))
	}
	bs, err := remote.blobStore(ctx)
	if err != nil {
		return nil, err
	}
	if bs != nil {
		opts = append(opts, tasm.WithBlobStore(bs), tasm.WithBlockCache(256<<20))
	}

	db, err := tasm.Open(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open tasm: %w", err)
	}
	return db, nil
}

var storeCmd = &cobra.Command{
	Use:   "store <path> <name>",
	Short: "Store a raw video",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, name := args[0], args[1]
		layout, _ := cmd.Flags().GetString("layout")
		rows, _ := cmd.Flags().GetInt("rows")
		cols, _ := cmd.Flags().GetInt("cols")
		metadataID, _ := cmd.Flags().GetString("metadata")
		label, _ := cmd.Flags().GetString("label")

		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		switch layout {
		case "untiled":
			err = db.Store(ctx, path, name)
		case "uniform":
			err = db.StoreWithUniformLayout(ctx, path, name, rows, cols)
		case "nonuniform":
			if metadataID == "" {
				metadataID = name
			}
			err = db.StoreWithNonuniformLayout(ctx, path, name, metadataID, label)
		default:
			return fmt.Errorf("unknown layout %q", layout)
		}
		if err != nil {
			return fmt.Errorf("failed to store video: %w", err)
		}

		info, err := db.Info(name)
		if err != nil {
			return err
		}
		fmt.Printf("Stored '%s': %d frames, %d tiles, %d bytes\n", name, info.Layout.FrameCount, info.Layout.NumTiles(), info.Bytes)
		return nil
	},
}

var addMetadataCmd = &cobra.Command{
	Use:   "add-metadata <metadata-id> <label> <frame> <x1> <y1> <x2> <y2>",
	Short: "Add one detection",
	Args:  cobra.ExactArgs(7),
	RunE: func(cmd *cobra.Command, args []string) error {
		nums := make([]int, 5)
		for i, s := range args[2:] {
			n, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("invalid number %q: %w", s, err)
			}
			nums[i] = n
		}

		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.AddMetadata(ctx, args[0], args[1], nums[0], nums[1], nums[2], nums[3], nums[4]); err != nil {
			return fmt.Errorf("failed to add detection: %w", err)
		}
		fmt.Println("Detection added")
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import detections from a JSON lines file",
	Long:  `Each line holds one detection: {"metadata_id":"v","label":"car","frame":3,"box":{"x1":0,"y1":0,"x2":10,"y2":10}}`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		var dets []tasm.Detection
		sc := bufio.NewScanner(f)
		for line := 1; sc.Scan(); line++ {
			if len(sc.Bytes()) == 0 {
				continue
			}
			var d tasm.Detection
			if err := json.Unmarshal(sc.Bytes(), &d); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			dets = append(dets, d)
		}
		if err := sc.Err(); err != nil {
			return err
		}

		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.AddBulkMetadata(ctx, dets...)
		if err != nil {
			return fmt.Errorf("failed to import detections: %w", err)
		}
		fmt.Printf("Imported %d detections (%d new)\n", len(dets), n)
		return nil
	},
}

var selectCmd = &cobra.Command{
	Use:   "select <video> <metadata-id> <label>",
	Short: "Query the objects, tiles or frames of a label",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		start, _ := cmd.Flags().GetInt("start")
		end, _ := cmd.Flags().GetInt("end")
		out, _ := cmd.Flags().GetString("out")

		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		var opts []tasm.SelectOption
		if end > 0 {
			opts = append(opts, tasm.WithFrameRange(start, end))
		}
		var cur *tasm.Cursor
		switch mode {
		case "objects":
			cur, err = db.Select(ctx, args[0], args[1], args[2], opts...)
		case "tiles":
			cur, err = db.SelectTiles(ctx, args[0], args[1], args[2], opts...)
		case "frames":
			cur, err = db.SelectFrames(ctx, args[0], args[1], args[2], opts...)
		default:
			return fmt.Errorf("unknown mode %q", mode)
		}
		if err != nil {
			return fmt.Errorf("failed to select: %w", err)
		}
		defer cur.Close()

		if out != "" {
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}
		}
		n := 0
		for img, err := range cur.All() {
			if err != nil {
				return fmt.Errorf("failed to decode: %w", err)
			}
			fmt.Printf("frame=%d rect=%s tile=%d\n", img.Frame, img.Rect, img.Tile)
			if out != "" {
				if err := writePNG(filepath.Join(out, fmt.Sprintf("%06d-%04d.png", img.Frame, n)), img); err != nil {
					return err
				}
			}
			n++
		}
		fmt.Printf("%d results\n", n)
		return nil
	},
}

func writePNG(path string, img tasm.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img.Pixels); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var infoCmd = &cobra.Command{
	Use:   "info [video]",
	Short: "Show stored videos and their layouts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		names := db.Videos()
		if len(args) == 1 {
			names = args
		}
		for _, name := range names {
			info, err := db.Info(name)
			if err != nil {
				return err
			}
			fmt.Printf("%s: version=%d kind=%s codec=%s size=%dx%d frames=%d tiles=%d bytes=%d\n",
				name, info.Version, info.Kind, info.Codec, info.Layout.Size.Width, info.Layout.Size.Height,
				info.Layout.FrameCount, info.Layout.NumTiles(), info.Bytes)
			if len(args) == 1 {
				for _, seg := range info.Layout.Segments {
					fmt.Printf("  frames %s: %v\n", seg.Frames, seg.Tiles)
				}
			}
		}
		return nil
	},
}

var retileCmd = &cobra.Command{
	Use:   "retile <video>",
	Short: "Re-tile a video as a uniform grid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, _ := cmd.Flags().GetInt("rows")
		cols, _ := cmd.Flags().GetInt("cols")

		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		cur, err := db.Layout(args[0])
		if err != nil {
			return err
		}
		l, err := uniformLike(cur, rows, cols)
		if err != nil {
			return err
		}
		if err := db.Retile(ctx, args[0], l); err != nil {
			return fmt.Errorf("failed to retile: %w", err)
		}
		fmt.Printf("Retiled '%s' to %dx%d\n", args[0], rows, cols)
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&root, "root", ".", "Directory holding labels.db and resources/")
	rootCmd.PersistentFlags().StringVar(&compression, "compression", "zstd", "Tile block compression: zstd, lz4 or none")
	rootCmd.PersistentFlags().IntVar(&gopLength, "gop", 0, "Frames per encoded tile chunk")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	remote.register(rootCmd)

	storeCmd.Flags().String("layout", "untiled", "Layout: untiled, uniform or nonuniform")
	storeCmd.Flags().Int("rows", 2, "Rows of a uniform layout")
	storeCmd.Flags().Int("cols", 2, "Columns of a uniform layout")
	storeCmd.Flags().String("metadata", "", "Metadata id of a nonuniform layout (defaults to the name)")
	storeCmd.Flags().String("label", "", "Label of a nonuniform layout")

	selectCmd.Flags().String("mode", "objects", "Result mode: objects, tiles or frames")
	selectCmd.Flags().Int("start", 0, "First frame")
	selectCmd.Flags().Int("end", 0, "End frame (exclusive); 0 means all frames")
	selectCmd.Flags().String("out", "", "Directory to write PNG results to")

	retileCmd.Flags().Int("rows", 2, "Rows")
	retileCmd.Flags().Int("cols", 2, "Columns")

	regretCmd.Flags().Int("queries", 1, "Times to run each label query")
	regretCmd.Flags().Bool("dry-run", false, "Only report accumulated regret")

	rootCmd.AddCommand(storeCmd, addMetadataCmd, importCmd, selectCmd, infoCmd, retileCmd, regretCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
