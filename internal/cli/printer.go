package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/aretw0/stageflow/internal/presentation/tui"
	"github.com/aretw0/stageflow/pkg/definition"
	"github.com/aretw0/stageflow/pkg/domain"
	"github.com/aretw0/stageflow/pkg/orchestrator"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Printer renders command results as colored text or as JSON.
type Printer struct {
	out      io.Writer
	json     bool
	profile  termenv.Profile
	markdown func(string) (string, error)
}

// NewPrinter creates a printer on out. Colors and markdown rendering are
// only enabled when out is a terminal.
func NewPrinter(out io.Writer, jsonMode bool) *Printer {
	p := &Printer{out: out, json: jsonMode, profile: termenv.Ascii}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.profile = termenv.EnvColorProfile()
		p.markdown = tui.NewRenderer()
	}
	return p
}

// Profile returns the color profile in use.
func (p *Printer) Profile() termenv.Profile {
	return p.profile
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Message prints a standardized system message (suppressed in JSON mode).
func (p *Printer) Message(format string, args ...any) {
	if p.json {
		return
	}
	fmt.Fprintf(p.out, ">>> %s\n", fmt.Sprintf(format, args...))
}

func (p *Printer) table(fn func(w io.Writer)) error {
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fn(tw)
	return tw.Flush()
}

// Sessions prints one line per session.
func (p *Printer) Sessions(list []*domain.Session) error {
	if p.json {
		if list == nil {
			list = []*domain.Session{}
		}
		return p.JSON(list)
	}
	if len(list) == 0 {
		p.Message("No sessions found.")
		return nil
	}
	return p.table(func(w io.Writer) {
		fmt.Fprintln(w, tui.Bold(p.profile, "ID\tWORKFLOW\tNAME\tSTATUS\tSTAGE\tUPDATED"))
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.WorkflowID, s.Name, tui.Status(p.profile, string(s.Status)),
				dash(s.CurrentStageID), s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
	})
}

// Session prints a session with its context.
func (p *Printer) Session(s *domain.Session) error {
	if p.json {
		return p.JSON(s)
	}
	return p.table(func(w io.Writer) {
		fmt.Fprintf(w, "Session:\t%s\n", tui.Bold(p.profile, s.ID))
		fmt.Fprintf(w, "Workflow:\t%s\n", s.WorkflowID)
		fmt.Fprintf(w, "Name:\t%s\n", dash(s.Name))
		fmt.Fprintf(w, "Status:\t%s\n", tui.Status(p.profile, string(s.Status)))
		fmt.Fprintf(w, "Current stage:\t%s\n", dash(s.CurrentStageID))
		fmt.Fprintf(w, "Completed:\t%s\n", dash(strings.Join(s.CompletedStages, ", ")))
		fmt.Fprintf(w, "Version:\t%d\n", s.Version)
		writeValues(w, "Context", s.Context)
	})
}

// Instances prints one line per stage instance.
func (p *Printer) Instances(list []*domain.StageInstance) error {
	if p.json {
		if list == nil {
			list = []*domain.StageInstance{}
		}
		return p.JSON(list)
	}
	if len(list) == 0 {
		p.Message("No stage instances found.")
		return nil
	}
	return p.table(func(w io.Writer) {
		fmt.Fprintln(w, tui.Bold(p.profile, "ID\tSTAGE\tNAME\tSTATUS\tITEMS"))
		for _, i := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
				i.ID, i.StageID, i.Name, tui.Status(p.profile, string(i.Status)), len(i.CompletedItems))
		}
	})
}

// Instance prints a stage instance with its context and deliverables.
func (p *Printer) Instance(i *domain.StageInstance) error {
	if p.json {
		return p.JSON(i)
	}
	return p.table(func(w io.Writer) {
		fmt.Fprintf(w, "Instance:\t%s\n", tui.Bold(p.profile, i.ID))
		fmt.Fprintf(w, "Session:\t%s\n", i.SessionID)
		fmt.Fprintf(w, "Stage:\t%s (%s)\n", i.StageID, i.Name)
		fmt.Fprintf(w, "Status:\t%s\n", tui.Status(p.profile, string(i.Status)))
		if i.StartedAt != nil {
			fmt.Fprintf(w, "Started:\t%s\n", i.StartedAt.Format("2006-01-02 15:04:05"))
		}
		if i.CompletedAt != nil {
			fmt.Fprintf(w, "Finished:\t%s\n", i.CompletedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(w, "Items done:\t%s\n", dash(strings.Join(i.CompletedItems, ", ")))
		writeValues(w, "Context", i.Context)
		writeValues(w, "Deliverables", i.Deliverables)
	})
}

// Progress prints checklist progress for one instance.
func (p *Printer) Progress(pr *orchestrator.Progress) error {
	if p.json {
		return p.JSON(pr)
	}
	fmt.Fprintf(p.out, "%s [%s] %s %d/%d (%.2f%%)\n",
		pr.StageID, tui.Status(p.profile, string(pr.Status)),
		tui.ProgressBar(p.profile, pr.PercentComplete, 20),
		pr.CompletedItemCount, pr.TotalItems, pr.PercentComplete)
	return nil
}

// SessionProgress prints how far a session is through its workflow.
func (p *Printer) SessionProgress(pr *orchestrator.SessionProgress) error {
	if p.json {
		return p.JSON(pr)
	}
	fmt.Fprintf(p.out, "%s [%s] %s %d/%d stages (%.2f%%)\n",
		pr.SessionID, tui.Status(p.profile, string(pr.Status)),
		tui.ProgressBar(p.profile, pr.PercentComplete, 20),
		pr.CompletedStages, pr.TotalStages, pr.PercentComplete)
	return nil
}

// Stages prints candidate stages, one per line.
func (p *Printer) Stages(list []domain.StageDefinition) error {
	if p.json {
		if list == nil {
			list = []domain.StageDefinition{}
		}
		return p.JSON(list)
	}
	if len(list) == 0 {
		p.Message("No next stages.")
		return nil
	}
	return p.table(func(w io.Writer) {
		for _, s := range list {
			weight := ""
			if s.Weight != nil {
				weight = fmt.Sprintf("weight %d", *s.Weight)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", tui.Bold(p.profile, s.ID), s.DisplayName(), tui.Faint(p.profile, weight))
		}
	})
}

// Workflows prints workflow ids.
func (p *Printer) Workflows(ids []string) error {
	if p.json {
		if ids == nil {
			ids = []string{}
		}
		return p.JSON(ids)
	}
	if len(ids) == 0 {
		p.Message("No workflows found.")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(p.out, id)
	}
	return nil
}

// Workflow prints a workflow. In JSON mode the normalized graph is
// written; on a terminal the markdown summary is rendered with glamour.
func (p *Printer) Workflow(def *domain.WorkflowDefinition, g *definition.Graph) error {
	if p.json {
		return p.JSON(struct {
			ID          string                        `json:"id"`
			Name        string                        `json:"name"`
			Type        string                        `json:"type,omitempty"`
			Description string                        `json:"description,omitempty"`
			Stages      []domain.StageDefinition      `json:"stages"`
			Transitions []domain.TransitionDefinition `json:"transitions"`
		}{def.ID, def.Name, def.Type, def.Description, g.Stages, g.Transitions})
	}
	md := tui.WorkflowMarkdown(def, g)
	if p.markdown != nil {
		if rendered, err := p.markdown(md); err == nil {
			md = rendered
		}
	}
	_, err := io.WriteString(p.out, md)
	return err
}

// Raw writes s as is, or as a JSON string in JSON mode.
func (p *Printer) Raw(s string) error {
	if p.json {
		return p.JSON(s)
	}
	_, err := io.WriteString(p.out, s)
	return err
}

func writeValues(w io.Writer, label string, v domain.Values) {
	if len(v) == 0 {
		fmt.Fprintf(w, "%s:\t-\n", label)
		return
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "%s:\t\n", label)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s\t%v\n", k, v[k])
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
