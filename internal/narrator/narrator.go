package narrator

import (
	"context"
	"iter"
	"time"

	"golang.org/x/sync/errgroup"

	"productscene/internal/remote"
	"productscene/internal/scene"
	"productscene/internal/workflow"
)

const defaultStep = 800 * time.Millisecond

// Message is one progress line and how long it should stay on screen at least.
type Message struct {
	Text       string
	MinDisplay time.Duration
}

type Options struct {
	Category scene.Category
	Mode     remote.Mode
	// Budget spreads the whole sequence over roughly this duration.
	// Zero keeps the default pacing.
	Budget time.Duration
}

// Sequence is finite and restartable: every call to All starts from the
// first message.
type Sequence struct {
	Stage    workflow.Stage
	messages []Message
}

var stageLines = map[workflow.Stage][]string{
	workflow.StageUpload: {
		"Checking your image",
		"Uploading product photo",
	},
	workflow.StageDetect: {
		"Detecting product category",
		"Analyzing visual characteristics",
		"Generating optimal scene recommendations",
	},
	workflow.StageGenerate: {
		"Crafting expert photography prompts",
		"Generating scene with Nano Banana",
		"Applying professional composition",
	},
	workflow.StageGenerated: {
		"Evaluating lighting and composition",
		"Assessing commercial viability",
		"Generating improvement suggestions",
	},
	workflow.StageEdit: {
		"Reading your edit request",
		"Repainting the scene",
		"Keeping the product untouched",
	},
	workflow.StageExport: {
		"Preparing Instagram square",
		"Preparing Instagram story",
		"Preparing hero banner",
		"Packaging original",
	},
}

var categoryLines = map[scene.Category][]string{
	scene.Footwear: {
		"Analyzing shoe design and materials",
		"Optimizing angle for laces and sole visibility",
		"Ensuring proper color contrast and texture",
		"Positioning for dynamic lifestyle appeal",
		"Applying professional lighting for footwear",
	},
	scene.Food: {
		"Analyzing food presentation and freshness",
		"Optimizing lighting for appetizing appeal",
		"Ensuring proper color saturation",
		"Positioning for mouth-watering composition",
		"Applying professional food photography techniques",
	},
	scene.Devices: {
		"Analyzing device design and features",
		"Optimizing angle for screen and buttons",
		"Ensuring proper reflection and shine",
		"Positioning for modern tech appeal",
		"Applying professional product lighting",
	},
}

var modeLines = map[remote.Mode]string{
	remote.ModeSingle:      "Creating professional lifestyle photography...",
	remote.ModeMultiFormat: "Creating multi-format professional photography...",
	remote.ModeVariations:  "Creating 5 different scene variations...",
}

// For builds the narration of the remote work done while leaving stage.
// Generation narration is tailored to the product category and mode.
func For(stage workflow.Stage, opts Options) Sequence {
	var lines []string
	if stage == workflow.StageGenerate {
		cat := opts.Category
		if _, ok := categoryLines[cat]; !ok {
			cat = scene.DefaultCategory
		}
		lines = append(lines, categoryLines[cat]...)

		mode := opts.Mode
		if !mode.Valid() {
			mode = remote.ModeSingle
		}
		lines = append(lines, modeLines[mode])
	}
	lines = append(lines, stageLines[stage]...)

	step := defaultStep
	if opts.Budget > 0 && len(lines) > 0 {
		step = opts.Budget / time.Duration(len(lines))
	}

	msgs := make([]Message, 0, len(lines))
	for _, l := range lines {
		msgs = append(msgs, Message{Text: l, MinDisplay: step})
	}
	return Sequence{Stage: stage, messages: msgs}
}

func (s Sequence) Len() int { return len(s.messages) }

func (s Sequence) Messages() []Message {
	return append([]Message(nil), s.messages...)
}

func (s Sequence) All() iter.Seq[Message] {
	return func(yield func(Message) bool) {
		for _, m := range s.messages {
			if !yield(m) {
				return
			}
		}
	}
}

// Play emits each message and holds it for its minimum display time. It
// returns ctx.Err() when cancelled and nil after the last message.
func Play(ctx context.Context, seq Sequence, emit func(Message)) error {
	for m := range seq.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		emit(m)

		t := time.NewTimer(m.MinDisplay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// Run narrates seq while op runs and stops the narration as soon as op
// returns. The result is op's error; narration never changes it. emit is
// not called after Run returns.
func Run(ctx context.Context, seq Sequence, emit func(Message), op func(context.Context) error) error {
	narrateCtx, stop := context.WithCancel(ctx)
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		defer stop()
		return op(ctx)
	})
	g.Go(func() error {
		_ = Play(narrateCtx, seq, emit)
		return nil
	})
	return g.Wait()
}
