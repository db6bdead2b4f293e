package mirror

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"salvi/app/internal/wiki"
)

// Applier stores pages pulled from the master.
type Applier interface {
	ApplyRemote(ctx context.Context, remote wiki.RemotePage) (bool, error)
}

// FailureRecorder counts pages that could not be synced.
type FailureRecorder interface {
	RemoteFailed()
}

// Report summarises one poll.
type Report struct {
	Applied int
	Skipped int
	Failed  int
}

// Syncer pulls changed pages from a master instance.
type Syncer struct {
	source   Source
	applier  Applier
	state    *State
	recorder FailureRecorder
	logger   *logrus.Logger
	now      func() time.Time
}

// NewSyncer wires a syncer. recorder may be nil.
func NewSyncer(source Source, applier Applier, state *State, recorder FailureRecorder, logger *logrus.Logger) (*Syncer, error) {
	switch {
	case source == nil:
		return nil, eris.New("sync source is required")
	case applier == nil:
		return nil, eris.New("page applier is required")
	case state == nil:
		return nil, eris.New("sync state is required")
	}

	return &Syncer{source: source, applier: applier, state: state, recorder: recorder, logger: logger, now: time.Now}, nil
}

// Run performs one poll. Individual page failures are counted and logged;
// the high-water mark advances to the time the poll started once the list
// of changed pages has been fetched.
func (s *Syncer) Run(ctx context.Context) (Report, error) {
	started := s.now().UTC()

	since, err := s.state.Load()
	if err != nil {
		return Report{}, err
	}

	ids, err := s.source.ChangedSince(ctx, since)
	if err != nil {
		s.logError(logrus.Fields{"since": since}, err, "listing changed pages failed")
		return Report{}, err
	}

	var report Report
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, eris.Wrap(err, "sync cancelled")
		}

		applied, err := s.pull(ctx, id)
		switch {
		case err != nil:
			report.Failed++
			if s.recorder != nil {
				s.recorder.RemoteFailed()
			}
			s.logError(logrus.Fields{"page_id": id}, err, "skipping page")
		case applied:
			report.Applied++
		default:
			report.Skipped++
		}
	}

	if err := s.state.Save(started); err != nil {
		return report, err
	}

	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"component": "sync",
			"since":     since.Format(time.RFC3339),
			"applied":   report.Applied,
			"skipped":   report.Skipped,
			"failed":    report.Failed,
		}).Info("sync finished")
	}

	return report, nil
}

func (s *Syncer) pull(ctx context.Context, id uint) (bool, error) {
	info, err := s.source.PageInfo(ctx, id)
	if err != nil {
		return false, err
	}
	if info.Text == nil {
		return false, eris.Wrapf(wiki.ErrIntegrity, "page %d arrived without text", id)
	}

	remote := wiki.RemotePage{
		ID:         id,
		Slug:       info.URL,
		Title:      info.Title,
		IsRedirect: info.IsRedirect,
		Touched:    wiki.FromUnixSeconds(info.Touched),
		Tags:       info.Tags,
		Text:       *info.Text,
		Length:     info.Latest.Length,
	}
	if info.Latest.PubDate != nil {
		remote.RevisionTime = wiki.FromUnixSeconds(*info.Latest.PubDate)
	}

	return s.applier.ApplyRemote(ctx, remote)
}

func (s *Syncer) logError(fields logrus.Fields, err error, message string) {
	if s.logger == nil {
		return
	}

	entry := s.logger.WithField("component", "sync").WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
