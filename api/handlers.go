package api

import (
	"strings"
	"time"

	"github.com/TFMV/tabdelta/metrics"
	"github.com/TFMV/tabdelta/pkg/changeset"
	"github.com/TFMV/tabdelta/pkg/diff"
	"github.com/TFMV/tabdelta/pkg/loader"
	"github.com/TFMV/tabdelta/pkg/snapshot"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ChangesetContentType is the media type of encoded changesets.
const ChangesetContentType = "application/x-tabdelta-changeset"

const defaultSamples = 100

// DiffRequest names two dataset versions to compare.
type DiffRequest struct {
	Base          string   `json:"base"`
	Target        string   `json:"target"`
	KeyColumns    []string `json:"key_columns"`
	IgnoreColumns []string `json:"ignore_columns"`
	FloatEpsilon  *float64 `json:"float_epsilon"`
	Samples       int      `json:"samples"`
}

// MergeRequest names the two sides of a merge. Ancestor may be omitted when
// both sides are revision refs of the same path and the server's loader
// can resolve it.
type MergeRequest struct {
	Ours         string   `json:"ours"`
	Theirs       string   `json:"theirs"`
	Ancestor     string   `json:"ancestor"`
	KeyColumns   []string `json:"key_columns"`
	FloatEpsilon *float64 `json:"float_epsilon"`
}

func (s *Server) options(keys, ignore []string, epsilon *float64) diff.Options {
	o := s.opts.Defaults
	o.Progress = nil
	o.Logger = s.log
	if keys != nil {
		o.KeyColumns = keys
	}
	if ignore != nil {
		o.IgnoreColumns = ignore
	}
	if epsilon != nil {
		o.FloatEpsilon = *epsilon
	}
	return o
}

// loadAll loads refs, concurrently when the loader supports it. Load
// failures are client errors.
func (s *Server) loadAll(c *fiber.Ctx, refs ...string) ([]*snapshot.Snapshot, error) {
	ctx := c.UserContext()
	if l, ok := s.opts.Loader.(*loader.Loader); ok {
		snaps, err := l.LoadAll(ctx, refs...)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return snaps, nil
	}
	snaps := make([]*snapshot.Snapshot, len(refs))
	for i, ref := range refs {
		snap, err := s.opts.Loader.Load(ctx, ref)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		snaps[i] = snap
	}
	return snaps, nil
}

func wantsBinary(c *fiber.Ctx) bool {
	return c.Query("format") == "binary" || strings.Contains(c.Get(fiber.HeaderAccept), ChangesetContentType)
}

func sendChangeset(c *fiber.Ctx, cs *changeset.Changeset) error {
	b, err := changeset.Encode(cs)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, ChangesetContentType)
	return c.Send(b)
}

func (s *Server) handleDiff(c *fiber.Ctx) error {
	var req DiffRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.Base == "" || req.Target == "" {
		return fiber.NewError(fiber.StatusBadRequest, "base and target are required")
	}
	ctx := c.UserContext()

	snaps, err := s.loadAll(c, req.Base, req.Target)
	if err != nil {
		return err
	}
	start := time.Now()
	cs, err := diff.Diff(ctx, snaps[0], snaps[1], s.options(req.KeyColumns, req.IgnoreColumns, req.FloatEpsilon))
	if err != nil {
		return err
	}
	if wantsBinary(c) {
		return sendChangeset(c, cs)
	}
	samples := req.Samples
	if samples <= 0 {
		samples = defaultSamples
	}
	r := metrics.Build(cs, metrics.RunMetadata{
		BaseRef:   req.Base,
		TargetRef: req.Target,
		StartTime: start,
		EndTime:   time.Now(),
	}, int64(snaps[0].NumRows()), int64(snaps[1].NumRows()), samples)
	return c.JSON(r)
}

func (s *Server) handleMerge(c *fiber.Ctx) error {
	var req MergeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if req.Ours == "" || req.Theirs == "" {
		return fiber.NewError(fiber.StatusBadRequest, "ours and theirs are required")
	}
	ctx := c.UserContext()

	if req.Ancestor == "" {
		l, ok := s.opts.Loader.(*loader.Loader)
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, "ancestor is required")
		}
		ref, err := l.AncestorRef(ctx, req.Ours, req.Theirs)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		req.Ancestor = ref
	}

	snaps, err := s.loadAll(c, req.Ancestor, req.Ours, req.Theirs)
	if err != nil {
		return err
	}
	opts := s.options(req.KeyColumns, nil, req.FloatEpsilon)
	results, err := diff.Many(ctx, []diff.Pair{
		{Name: "ours", Base: snaps[0], Target: snaps[1]},
		{Name: "theirs", Base: snaps[0], Target: snaps[2]},
	}, opts, 2)
	if err != nil {
		return err
	}
	res, err := changeset.Merge(results[0].Changeset, results[1].Changeset, snaps[0], changeset.WithEpsilon(opts.FloatEpsilon))
	if err != nil {
		return err
	}
	s.log.Debug("merge computed",
		zap.String("ancestor", req.Ancestor),
		zap.Int("conflicts", len(res.Conflicts)),
		zap.Int("schema_conflicts", len(res.SchemaConflicts)))

	if wantsBinary(c) {
		if !res.Clean() {
			return c.Status(fiber.StatusConflict).JSON(metrics.BuildMerge(res))
		}
		return sendChangeset(c, res.Changeset)
	}
	return c.JSON(metrics.BuildMerge(res))
}

func (s *Server) handleDecode(c *fiber.Ctx) error {
	cs, err := changeset.Decode(c.Body())
	if err != nil {
		return err
	}
	samples := c.QueryInt("samples", defaultSamples)
	return c.JSON(metrics.Build(cs, metrics.RunMetadata{}, 0, 0, samples))
}
