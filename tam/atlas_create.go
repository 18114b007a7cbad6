package tam

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/atlas/internal/utils"
	"github.com/vkngwrapper/atlas/memutils"
	"github.com/vkngwrapper/atlas/memutils/idmap"
	"github.com/vkngwrapper/atlas/memutils/metadata"
	"github.com/vkngwrapper/core/v2/common"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific atlas behaviors to activate or deactivate
type CreateFlags int32

var atlasCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	atlasCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return atlasCreateFlagsMapping.FlagsToString(f)
}

const (
	// CreateInternallySynchronized guards every atlas method with a mutex. Without it, the consumer
	// must guarantee that the atlas is used from only one goroutine at a time.
	CreateInternallySynchronized CreateFlags = 1 << iota
)

func init() {
	CreateInternallySynchronized.Register("CreateInternallySynchronized")
}

const (
	// defaultIdentifierSeed is the LCG state used by NextIdentifier when CreateOptions leaves
	// IdentifierSeed empty
	defaultIdentifierSeed uint64 = 0x9e3779b97f4a7c15
)

// CreateOptions contains the settings used to create an Atlas
type CreateOptions struct {
	// Flags indicates specific atlas behaviors to activate or deactivate
	Flags CreateFlags

	// Grid describes the dimensions of the atlas image. It is required.
	Grid metadata.GridDescription

	// Map configures the identifier map. It is valid to leave all the fields blank.
	Map idmap.Config

	// IdentifierSeed is the starting state of the generator behind NextIdentifier. Two atlases
	// with the same seed hand out the same sequence of identifiers.
	IdentifierSeed uint64
}

// New creates a new, empty Atlas. M is the type of the usage moment the consumer hands to
// EndAccess, usually a frame number or a GPU fence value.
//
// logger - The logger that atlas operations will write debug output to
//
// options - Settings for the atlas: Grid must be filled in, other fields are optional
func New[M any](logger *slog.Logger, options CreateOptions) (*Atlas[M], error) {
	if logger == nil {
		return nil, errors.New("tam.New requires a logger")
	}

	grid, err := metadata.NewBuddyGrid[entry](options.Grid)
	if err != nil {
		return nil, errors.Wrap(err, "invalid grid description")
	}

	ids, err := idmap.New[metadata.TileIndex](options.Map)
	if err != nil {
		return nil, errors.Wrap(err, "invalid identifier map configuration")
	}

	seed := options.IdentifierSeed
	if seed == 0 {
		seed = defaultIdentifierSeed
	}

	atlas := &Atlas[M]{
		logger:          logger,
		createFlags:     options.Flags,
		mutex:           utils.OptionalMutex{UseMutex: options.Flags&CreateInternallySynchronized != 0},
		grid:            grid,
		ids:             ids,
		identifierState: seed,
	}
	atlas.queue.init(grid)

	logger.Debug("Atlas::New",
		slog.Int("Width", grid.Description().Extent().Width),
		slog.Int("Height", grid.Description().Extent().Height),
		slog.Int("Layers", grid.Description().Layers),
		slog.String("Flags", options.Flags.String()),
		slog.Bool("DebugValidation", memutils.DebugEnabled),
	)

	return atlas, nil
}
