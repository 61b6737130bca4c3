package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"sort"
	"syscall"
	"time"

	"github.com/benchcell/urcell"
	"github.com/benchcell/urcell/dashboard"
	"github.com/benchcell/urcell/internal/wconfig"
	"github.com/benchcell/urcell/urscript"

	"github.com/go-viper/mapstructure/v2"
	viz "github.com/viam-labs/motion-tools/client/client"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
)

// stepEnv hands each step the CLI logger and a decoder for the -job file.
type stepEnv struct {
	logger logging.Logger
	decode func(out any) error
}

var steps = map[string]func(context.Context, *urcell.UR, stepEnv) error{
	"initialize": func(ctx context.Context, r *urcell.UR, _ stepEnv) error {
		return r.Initialize(ctx)
	},
	"status": func(ctx context.Context, r *urcell.UR, env stepEnv) error {
		st, err := r.Status(ctx)
		if err != nil {
			return err
		}
		env.logger.Infof("mode=%s safety=%s", st.Mode, st.Safety)
		return nil
	},
	"home": func(ctx context.Context, r *urcell.UR, env stepEnv) error {
		var req struct{ Joints urscript.Joints }
		if err := env.decode(&req); err != nil {
			return err
		}
		if req.Joints == (urscript.Joints{}) {
			req.Joints = urcell.HomeJoints
		}
		return r.Home(ctx, req.Joints)
	},
	"assemble": func(ctx context.Context, r *urcell.UR, _ stepEnv) error {
		return urcell.AssembleCell(ctx, r)
	},
	"transfer": func(ctx context.Context, r *urcell.UR, env stepEnv) error {
		var req urcell.TransferRequest
		if err := env.decode(&req); err != nil {
			return err
		}
		return r.GripperTransfer(ctx, req)
	},
	"flip": func(ctx context.Context, r *urcell.UR, env stepEnv) error {
		var req urcell.FlipRequest
		if err := env.decode(&req); err != nil {
			return err
		}
		return r.PickAndFlipObject(ctx, req)
	},
	"screw": func(ctx context.Context, r *urcell.UR, env stepEnv) error {
		var req urcell.ScrewTransferRequest
		if err := env.decode(&req); err != nil {
			return err
		}
		return r.GripperScrewTransfer(ctx, req)
	},
	"unscrew": func(ctx context.Context, r *urcell.UR, env stepEnv) error {
		var req urcell.ScrewTransferRequest
		if err := env.decode(&req); err != nil {
			return err
		}
		return r.GripperUnscrew(ctx, req)
	},
	"remove-cap": func(ctx context.Context, r *urcell.UR, env stepEnv) error {
		var req urcell.CapRequest
		if err := env.decode(&req); err != nil {
			return err
		}
		return r.RemoveCap(ctx, req)
	},
	"place-cap": func(ctx context.Context, r *urcell.UR, env stepEnv) error {
		var req urcell.CapRequest
		if err := env.decode(&req); err != nil {
			return err
		}
		return r.PlaceCap(ctx, req)
	},
	"pipette": func(ctx context.Context, r *urcell.UR, env stepEnv) error {
		var req urcell.PipetteRequest
		if err := env.decode(&req); err != nil {
			return err
		}
		return r.PipetteTransfer(ctx, req)
	},
	"feed-screw": func(ctx context.Context, r *urcell.UR, env stepEnv) error {
		var req urcell.ScrewdriverRequest
		if err := env.decode(&req); err != nil {
			return err
		}
		return r.RobotiqScrewdriverTransfer(ctx, req)
	},
	"run-program": func(ctx context.Context, r *urcell.UR, env stepEnv) error {
		var req urcell.ProgramRequest
		if err := env.decode(&req); err != nil {
			return err
		}
		res, err := r.RunURPProgram(ctx, req)
		if err != nil {
			return err
		}
		env.logger.Infof("program %s finished in %v (state %s)", res.Program, res.Elapsed.Round(time.Second), res.State)
		return nil
	},
	"screw-program": func(ctx context.Context, r *urcell.UR, env stepEnv) error {
		req := struct {
			Name   string
			Home   *urscript.Joints
			Target urscript.Pose
			Torque float64
			RPM    float64
		}{Name: "screw.urp", Torque: 250, RPM: 100}
		if err := env.decode(&req); err != nil {
			return err
		}
		dir, err := os.MkdirTemp("", "urcell-programs")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)

		prog, err := r.ComposeScrewProgram(dir, req.Name, req.Home, req.Target, req.Torque, req.RPM)
		if err != nil {
			return err
		}
		res, err := r.RunURPProgram(ctx, prog)
		if err != nil {
			return err
		}
		env.logger.Infof("program %s finished in %v (state %s)", res.Program, res.Elapsed.Round(time.Second), res.State)
		return nil
	},
	"pick-tool": func(ctx context.Context, r *urcell.UR, env stepEnv) error {
		var req urcell.ToolRequest
		if err := env.decode(&req); err != nil {
			return err
		}
		return r.PickTool(ctx, req)
	},
	"place-tool": func(ctx context.Context, r *urcell.UR, env stepEnv) error {
		var req urcell.ToolRequest
		if err := env.decode(&req); err != nil {
			return err
		}
		return r.PlaceTool(ctx, req)
	},
	"power-off": func(ctx context.Context, r *urcell.UR, _ stepEnv) error {
		return r.PowerOff(ctx)
	},
}

const validSteps = "initialize, status, home, assemble, transfer, flip, screw, unscrew, " +
	"remove-cap, place-cap, pipette, feed-screw, run-program, screw-program, pick-tool, " +
	"place-tool, power-off"

func main() {
	configPath := flag.String("config", "", "path to workcell config JSON file")
	step := flag.String("step", "", "step to run: "+validSteps)
	jobPath := flag.String("job", "", "JSON file with the step's request (deck names allowed for poses)")
	drawDeck := flag.Bool("viz", false, "draw the deck positions in the motion-tools visualizer and exit")
	flag.Parse()

	logger := logging.NewLogger("urcell-cli")

	if *configPath == "" {
		logger.Fatal("-config flag is required")
	}
	cell, err := wconfig.Load(*configPath)
	if err != nil {
		logger.Fatal(err)
	}
	poses, jointSets := deckTables(cell)

	if *drawDeck {
		if err := visualizeDeck(poses, logger); err != nil {
			logger.Fatal(err)
		}
		return
	}

	if *step == "" {
		logger.Fatal("-step flag is required; valid steps: " + validSteps)
	}
	run, ok := steps[*step]
	if !ok {
		logger.Fatalf("unknown step %q; valid steps: %s", *step, validSteps)
	}

	job, err := loadJob(*jobPath)
	if err != nil {
		logger.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := urcell.DefaultConfig(cell.Host)
	cfg.SSH = dashboard.SSHConfig{User: cell.SSHUser, Password: cell.SSHPassword}

	r, err := urcell.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err)
	}
	defer r.Close()

	logger.Infof("=== Running step: %s ===", *step)

	env := stepEnv{logger: logger, decode: jobDecoder(job, poses, jointSets)}
	if err := run(ctx, r, env); err != nil {
		logger.Fatal(err)
	}
	logger.Infof("Step %s completed successfully", *step)
}

// deckTables merges the built-in deck positions with any taught overrides
// from the workcell config.
func deckTables(cell *wconfig.Workcell) (map[string]urscript.Pose, map[string]urscript.Joints) {
	poses := map[string]urscript.Pose{
		"PipetteDock":     urcell.PipetteDock,
		"GripperDock":     urcell.GripperDock,
		"ScrewdriverDock": urcell.ScrewdriverDock,
		"TipRackFirst":    urcell.TipRackFirst,
		"SampleSource":    urcell.SampleSource,
		"SampleDispense":  urcell.SampleDispense,
		"TipTrash":        urcell.TipTrash,
		"VialCap":         urcell.VialCap,
		"VialCapHolder":   urcell.VialCapHolder,
		"CellScrewFirst":  urcell.CellScrewFirst,
		"CellScrewSecond": urcell.CellScrewSecond,
		"HexKeyHolder":    urcell.HexKeyHolder,
		"ScrewHolder":     urcell.ScrewHolder,
		"CellHolder":      urcell.CellHolder,
		"AssemblyDeck":    urcell.AssemblyDeck,
		"AssemblyAbove":   urcell.AssemblyAbove,
	}
	for name, v := range cell.Poses {
		poses[name] = urscript.Pose(v)
	}
	jointSets := map[string]urscript.Joints{
		"HomeJoints": urcell.HomeJoints,
	}
	for name, v := range cell.Joints {
		jointSets[name] = urscript.Joints(v)
	}
	return poses, jointSets
}

func loadJob(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job file: %w", err)
	}
	var job map[string]any
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parsing job file: %w", err)
	}
	return job, nil
}

// jobDecoder decodes the -job map into a step's request struct. Pose and
// joint fields accept deck names ("VialCap") as well as raw arrays, and
// durations accept strings like "10s".
func jobDecoder(job map[string]any, poses map[string]urscript.Pose, jointSets map[string]urscript.Joints) func(out any) error {
	return func(out any) error {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				deckNameHook(poses),
				jointsNameHook(jointSets),
			),
			ErrorUnused: true,
			Result:      out,
		})
		if err != nil {
			return err
		}
		if err := dec.Decode(job); err != nil {
			return fmt.Errorf("decoding job: %w", err)
		}
		return nil
	}
}

func deckNameHook(poses map[string]urscript.Pose) mapstructure.DecodeHookFuncType {
	poseType := reflect.TypeOf(urscript.Pose{})
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != poseType {
			return data, nil
		}
		name := data.(string)
		p, ok := poses[name]
		if !ok {
			return nil, fmt.Errorf("unknown deck pose %q", name)
		}
		return p, nil
	}
}

func jointsNameHook(jointSets map[string]urscript.Joints) mapstructure.DecodeHookFuncType {
	jointsType := reflect.TypeOf(urscript.Joints{})
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != jointsType {
			return data, nil
		}
		name := data.(string)
		j, ok := jointSets[name]
		if !ok {
			return nil, fmt.Errorf("unknown joint set %q", name)
		}
		return j, nil
	}
}

// visualizeDeck draws every recorded deck pose in the motion-tools
// visualizer so taught positions can be sanity checked off the robot.
func visualizeDeck(poses map[string]urscript.Pose, logger logging.Logger) error {
	if err := viz.RemoveAllSpatialObjects(); err != nil {
		return fmt.Errorf("clear visualizer scene (is motion-tools running?): %w", err)
	}

	names := make([]string, 0, len(poses))
	for name := range poses {
		names = append(names, name)
	}
	sort.Strings(names)

	drawn := 0
	for _, name := range names {
		p := poses[name]
		if p.IsZero() {
			logger.Warnf("skipping %s: not recorded", name)
			continue
		}
		if err := viz.DrawPoses([]spatialmath.Pose{p.Spatial()}, []string{name}, true); err != nil {
			return fmt.Errorf("draw %s: %w", name, err)
		}
		drawn++
	}
	logger.Infof("drew %d deck poses", drawn)
	return nil
}
