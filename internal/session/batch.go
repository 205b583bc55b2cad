package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/hbrun/internal/events"
	"github.com/mattjoyce/hbrun/internal/subcommand"
	"github.com/mattjoyce/hbrun/internal/workspace"
)

// DefaultSearchKeyword is searched for when no keyword is configured.
const DefaultSearchKeyword = "example"

// BatchReport collects the reports of one sweep, in execution order.
type BatchReport struct {
	Run     workspace.Run `json:"run"`
	Reports []Report      `json:"reports"`
}

// Batch sweeps one evidence file through every analysis subcommand. Profiles
// are always listed; the remaining steps run only for .evtx input. Launch
// failures and non-zero exits do not stop the sweep; an interrupt does.
func (s *Session) Batch(ctx context.Context, evidence string) (report BatchReport, err error) {
	run, err := s.RunDir(ctx)
	if err != nil {
		return BatchReport{}, err
	}
	report = BatchReport{Run: run}
	p := s.persister.Batched()

	s.publish(events.BatchStarted, events.BatchData{SessionID: s.id, Evidence: evidence, RunDir: run.Dir})
	defer func() {
		data := events.BatchData{SessionID: s.id, Evidence: evidence, RunDir: run.Dir, Steps: len(report.Reports)}
		if err != nil {
			data.Error = err.Error()
		}
		s.publish(events.BatchFinished, data)
	}()

	r, err := s.execute(ctx, Request{Subcommand: string(subcommand.ListProfiles), Persist: true}, p)
	report.Reports = append(report.Reports, r)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return report, ctxErr
	}
	if err != nil {
		s.logger.Warn("batch step failed", "subcommand", subcommand.ListProfiles, "error", err)
	}

	ext := strings.ToLower(filepath.Ext(evidence))
	if ext != ".evtx" {
		return report, fmt.Errorf("%w: unsupported evidence type %q", subcommand.ErrInvalidInvocation, ext)
	}

	s.logger.Info("running batch", "evidence", evidence, "dir", run.Dir)
	for _, req := range s.batchRequests(run, evidence) {
		r, err := s.execute(ctx, req, p)
		report.Reports = append(report.Reports, r)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		if err != nil {
			s.logger.Warn("batch step failed", "subcommand", req.Subcommand, "error", err)
		}
	}
	return report, nil
}

func (s *Session) batchRequests(run workspace.Run, evidence string) []Request {
	base := strings.TrimSuffix(filepath.Base(evidence), filepath.Ext(evidence))
	in := subcommand.Params{Input: evidence, InputKind: subcommand.InputFile}
	with := func(mut func(*subcommand.Params)) subcommand.Params {
		p := in
		mut(&p)
		return p
	}

	return []Request{
		{Subcommand: string(subcommand.CSVTimeline), Persist: true, Params: with(func(p *subcommand.Params) {
			p.Output = filepath.Join(run.Dir, base+"_csv_timeline.csv")
		})},
		{Subcommand: string(subcommand.JSONTimeline), Persist: true, Params: with(func(p *subcommand.Params) {
			p.Output = filepath.Join(run.Dir, base+"_json_timeline.json")
		})},
		{Subcommand: string(subcommand.ComputerMetrics), Persist: true, Params: in},
		{Subcommand: string(subcommand.EIDMetrics), Persist: true, Params: in},
		{Subcommand: string(subcommand.LogonSummary), Persist: true, Params: in},
		{Subcommand: string(subcommand.PivotKeywordsList), Persist: true, Params: in},
		{Subcommand: string(subcommand.Search), Persist: true, Params: with(func(p *subcommand.Params) {
			p.Pattern = s.searchKeyword
		})},
	}
}
