package main

import (
	"fmt"
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/atlas/memutils/idmap"
	"github.com/vkngwrapper/atlas/memutils/metadata"
	"github.com/vkngwrapper/atlas/tam"
	"golang.org/x/exp/slog"
)

// workload describes a synthetic stream of atlas requests. Each frame requests PerFrame
// identifiers drawn from a Zipf distribution over Identifiers, so a small set of identifiers
// is requested nearly every frame while the long tail is seen rarely.
type workload struct {
	Grid metadata.GridDescription
	Map  idmap.Config

	Frames      int
	PerFrame    int
	Identifiers int
	MaxSize     int
	Skew        float64
	Seed        int64
	Validate    bool
}

type frameTotals struct {
	Found         int
	Inserted      int
	FailImageFull int
	FailMapFull   int
}

func init() {
	cmd := newRunCmd()
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	w := workload{}
	var detailed bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a synthetic workload and print atlas statistics",
		Long: `The run command creates an atlas, replays a synthetic workload against it,
and prints the atlas statistics as JSON.

Example:
  atlassim run --width-exp 8 --height-exp 8 --min-exp 2 --frames 1000
  atlassim run --identifiers 20000 --per-frame 400 --detailed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			atlas, totals, err := simulate(logger, w)
			if err != nil {
				return err
			}

			logger.Info("simulation complete",
				slog.Int("Found", totals.Found),
				slog.Int("Inserted", totals.Inserted),
				slog.Int("FailImageFull", totals.FailImageFull),
				slog.Int("FailMapFull", totals.FailMapFull),
			)

			fmt.Fprintln(cmd.OutOrStdout(), atlas.BuildStatsString(detailed))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&w.Grid.WidthExponent, "width-exp", 6, "log2 of the atlas width, in minimum tiles")
	flags.IntVar(&w.Grid.HeightExponent, "height-exp", 6, "log2 of the atlas height, in minimum tiles")
	flags.IntVar(&w.Grid.Layers, "layers", 1, "number of atlas array layers")
	flags.IntVar(&w.Grid.MinTileExponent, "min-exp", 2, "log2 of the minimum tile edge, in pixels")
	flags.IntVar(&w.Map.InitialSizeExponent, "map-initial-exp", 0, "log2 of the initial identifier map size (0 for default)")
	flags.IntVar(&w.Map.MaxSizeExponent, "map-max-exp", 0, "log2 of the largest identifier map size (0 for default)")
	flags.IntVar(&w.Frames, "frames", 500, "number of access ranges to replay")
	flags.IntVar(&w.PerFrame, "per-frame", 100, "requests per access range")
	flags.IntVar(&w.Identifiers, "identifiers", 5000, "number of distinct identifiers in the workload")
	flags.IntVar(&w.MaxSize, "max-size", 32, "largest requested edge, in pixels")
	flags.Float64Var(&w.Skew, "skew", 1.1, "Zipf exponent of the identifier distribution, must be greater than 1")
	flags.Int64Var(&w.Seed, "seed", 1, "random seed for the workload")
	flags.BoolVar(&w.Validate, "validate", false, "validate the atlas after every frame")
	flags.BoolVar(&detailed, "detailed", false, "include every tile in the printed statistics")

	return cmd
}

func (w workload) check() error {
	if w.Frames < 1 || w.PerFrame < 1 {
		return errors.Newf("frames (%d) and per-frame (%d) must be positive", w.Frames, w.PerFrame)
	}
	if w.Identifiers < 1 {
		return errors.Newf("identifiers is %d, must be positive", w.Identifiers)
	}
	if w.MaxSize < 1 {
		return errors.Newf("max-size is %d, must be positive", w.MaxSize)
	}
	if w.Skew <= 1 {
		return errors.Newf("skew is %g, must be greater than 1", w.Skew)
	}
	return nil
}

// simulate replays the workload against a new atlas and returns the atlas for inspection
func simulate(logger *slog.Logger, w workload) (*tam.Atlas[int], frameTotals, error) {
	var totals frameTotals

	err := w.check()
	if err != nil {
		return nil, totals, err
	}

	atlas, err := tam.New[int](logger, tam.CreateOptions{
		Grid:           w.Grid,
		Map:            w.Map,
		IdentifierSeed: uint64(w.Seed),
	})
	if err != nil {
		return nil, totals, err
	}

	rng := rand.New(rand.NewSource(w.Seed))
	zipf := rand.NewZipf(rng, w.Skew, 1, uint64(w.Identifiers-1))

	// Every workload identifier gets a stable content key and size, as a glyph or image would
	keys := make([]uint64, w.Identifiers)
	sizes := make([]metadata.Size, w.Identifiers)
	for i := range keys {
		keys[i] = atlas.NextIdentifier()
		sizes[i] = metadata.Size{Width: 1 + rng.Intn(w.MaxSize), Height: 1 + rng.Intn(w.MaxSize)}
	}

	for frame := 0; frame < w.Frames; frame++ {
		err = atlas.BeginAccess()
		if err != nil {
			return nil, totals, err
		}

		for i := 0; i < w.PerFrame; i++ {
			which := zipf.Uint64()

			_, result, err := atlas.Obtain(keys[which], sizes[which])
			switch result {
			case tam.ObtainFound:
				totals.Found++
			case tam.ObtainInserted:
				totals.Inserted++
			case tam.ObtainFailImageFull:
				totals.FailImageFull++
			case tam.ObtainFailMapFull:
				totals.FailMapFull++
			default:
				return nil, totals, errors.Wrapf(err, "frame %d", frame)
			}
		}

		err = atlas.EndAccess(frame)
		if err != nil {
			return nil, totals, err
		}

		if w.Validate {
			err = atlas.Validate()
			if err != nil {
				return nil, totals, errors.Wrapf(err, "after frame %d", frame)
			}
		}
	}

	return atlas, totals, nil
}
