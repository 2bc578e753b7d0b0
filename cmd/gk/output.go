package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/alfredjeanlab/gatekeep/internal/client"
	"github.com/alfredjeanlab/gatekeep/internal/model"
	"github.com/alfredjeanlab/gatekeep/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func location(g *model.Gate) string {
	if !g.HasLocation() {
		return "-"
	}
	return fmt.Sprintf("%.6f,%.6f", *g.Latitude, *g.Longitude)
}

func printGate(w io.Writer, g *model.Gate) {
	fmt.Fprintf(w, "ID:          %s\n", ui.RenderAccent(g.ID))
	fmt.Fprintf(w, "Name:        %s\n", g.Name)
	fmt.Fprintf(w, "Kind:        %s\n", g.Kind)
	fmt.Fprintf(w, "Location:    %s\n", location(g))
	if !g.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created At:  %s\n", g.CreatedAt.Format(timeLayout))
	}
	if !g.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated At:  %s\n", g.UpdatedAt.Format(timeLayout))
	}
}

func printGateTable(w io.Writer, gates []*model.Gate) {
	if len(gates) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("no gates"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tLOCATION\tCREATED")
	for _, g := range gates {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", g.ID, g.Name, g.Kind, location(g), g.CreatedAt.Format(timeLayout))
	}
	tw.Flush()
}

func printBindingTable(w io.Writer, bindings []*model.GateBinding) {
	if len(bindings) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("no bindings"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	// Status is the last column: color codes would skew tabwriter widths.
	fmt.Fprintln(tw, "GATE\tCATEGORY\tSAMPLES\tCONFIDENCE\tSTATUS")
	for _, b := range bindings {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.3f\t%s\n", b.GateID, b.Category, b.SampleCount, b.Confidence, ui.RenderStatus(b.Status))
	}
	tw.Flush()
}

func printHistory(w io.Writer, evts []*model.Event) {
	if len(evts) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("no events"))
		return
	}
	for _, e := range evts {
		gate := ""
		if e.GateID != "" {
			gate = " " + ui.RenderAccent(e.GateID)
		}
		fmt.Fprintf(w, "%s  %-22s%s  %s\n", ui.RenderMuted(e.CreatedAt.Format(timeLayout)), e.Kind(), gate, e.Payload)
	}
}

func printDiscoveryReport(w io.Writer, r *model.DiscoveryReport) {
	if r.Skipped != "" {
		fmt.Fprintf(w, "%s: %s\n", r.EventID, ui.RenderMuted("skipped ("+r.Skipped+")"))
		return
	}
	mode := "physical"
	if r.Virtual {
		mode = "virtual"
	}
	fmt.Fprintf(w, "Event:       %s (%s)\n", ui.RenderAccent(r.EventID), mode)
	fmt.Fprintf(w, "Check-ins:   %d read, %d linked, %d noise\n", r.CheckinsRead, r.CheckinsLinked, r.NoisePoints)
	fmt.Fprintf(w, "Epsilon:     %.1f m\n", r.Epsilon)
	fmt.Fprintf(w, "Clusters:    %d\n", r.ClustersFound)
	if r.Deferred > 0 {
		fmt.Fprintf(w, "Gates:       %d created, %d updated, %d deferred (cooldown)\n", r.GatesCreated, r.GatesUpdated, r.Deferred)
	} else {
		fmt.Fprintf(w, "Gates:       %d created, %d updated\n", r.GatesCreated, r.GatesUpdated)
	}
	fmt.Fprintf(w, "Bindings:    %d created, %d updated\n", r.BindingsCreated, r.BindingsUpdated)
}

func printDeduplicationReport(w io.Writer, r *model.DeduplicationReport) {
	fmt.Fprintf(w, "Threshold:   %.0f m\n", r.VenueThreshold)
	fmt.Fprintf(w, "Clusters:    %d\n", r.ClustersFound)
	fmt.Fprintf(w, "Deleted:     %d gates\n", r.GatesDeleted)
	fmt.Fprintf(w, "Relinked:    %d check-ins\n", r.CheckinsRelinked)
	if len(r.Recommendations) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GATE\tCATEGORY\tSAMPLES\tCONFIDENCE\tCURRENT\tRECOMMENDED")
	for _, rec := range r.Recommendations {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.3f\t%s\t%s\n", rec.GateID, rec.Category,
			rec.TotalSampleCount, rec.HighestConfidence, rec.CurrentStatus, rec.RecommendedStatus)
	}
	tw.Flush()
}

func printApplied(w io.Writer, resp *client.ApplyRecommendationResponse) {
	b := resp.Binding
	if !resp.Applied {
		fmt.Fprintf(w, "%s/%s unchanged (%s)\n", b.GateID, b.Category, ui.RenderStatus(b.Status))
		return
	}
	fmt.Fprintf(w, "%s/%s promoted to %s\n", b.GateID, b.Category, ui.RenderStatus(b.Status))
}
