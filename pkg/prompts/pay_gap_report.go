// Package prompts builds the text-generation prompts used by the engine.
package prompts

import (
	"fmt"
	"sort"
	"strings"
)

// Group risk states and notes as they appear in group results.
const (
	stateThresholdAlert = "THRESHOLD_ALERT"
	stateRequiresReview = "REQUIRES_REVIEW"
	stateWithinRange    = "WITHIN_EXPECTED_RANGE"

	noteInsufficientData = "insufficient data"
	noteLowSampleSize    = "low sample size"
)

// GroupContext is one comparator group as presented to the model.
type GroupContext struct {
	Label      string // e.g. "IE / Engineering / Senior"
	WomenCount int
	MenCount   int
	GapPct     float64
	RiskState  string
	Note       string
}

// PayGapReportSystemMessage frames the narrative report request.
const PayGapReportSystemMessage = `You are a compensation analyst writing a pay equity summary for HR leadership.
Write plain prose in markdown. Be factual, cite group labels and gap figures exactly as given, and do not invent numbers.
A positive gap means men are paid more than women in that group.`

// BuildPayGapReportPrompt renders the groups partitioned by risk state, with
// groups lacking comparable data listed separately so they are never presented
// as favourable results.
func BuildPayGapReportPrompt(groups []GroupContext, orgName string) string {
	var alerts, reviews, within, insufficient []GroupContext
	for _, g := range groups {
		switch {
		case g.Note == noteInsufficientData:
			insufficient = append(insufficient, g)
		case g.RiskState == stateThresholdAlert:
			alerts = append(alerts, g)
		case g.RiskState == stateRequiresReview:
			reviews = append(reviews, g)
		default:
			within = append(within, g)
		}
	}

	var prompt strings.Builder

	prompt.WriteString("# Pay Gap Risk Summary\n\n")
	if orgName != "" {
		prompt.WriteString(fmt.Sprintf("Organization: %s\n", orgName))
	}
	prompt.WriteString(fmt.Sprintf("Comparator groups analysed: %d\n\n", len(groups)))

	writeGroupSection(&prompt, "Threshold alerts (|gap| >= 5%)", alerts)
	writeGroupSection(&prompt, "Requires review (|gap| >= 4%)", reviews)
	writeGroupSection(&prompt, "Within expected range", within)

	if len(insufficient) > 0 {
		prompt.WriteString("## Groups without comparable data\n")
		prompt.WriteString("These groups have employees of only one gender. Their gap could not be computed; ")
		prompt.WriteString("do NOT describe them as equitable or within range.\n\n")
		for _, g := range sortedByLabel(insufficient) {
			prompt.WriteString(fmt.Sprintf("- %s: %d women, %d men\n", g.Label, g.WomenCount, g.MenCount))
		}
		prompt.WriteString("\n")
	}

	lowSample := 0
	for _, g := range groups {
		if g.Note == noteLowSampleSize {
			lowSample++
		}
	}
	if lowSample > 0 {
		prompt.WriteString(fmt.Sprintf("Note: %d group(s) have fewer than three employees of one gender; ", lowSample))
		prompt.WriteString("their gap uses means instead of medians and should be read with caution.\n\n")
	}

	prompt.WriteString("## Instructions\n")
	prompt.WriteString("1. Open with a two or three sentence overview of the organisation's pay gap risk.\n")
	prompt.WriteString("2. Discuss every threshold alert, then the groups requiring review.\n")
	prompt.WriteString("3. Call out data quality limits (small samples, groups without comparable data).\n")
	prompt.WriteString("4. End with recommended next steps for HR.\n")
	prompt.WriteString("Respond with the report text only.\n")

	return prompt.String()
}

func writeGroupSection(b *strings.Builder, title string, groups []GroupContext) {
	if len(groups) == 0 {
		return
	}
	b.WriteString(fmt.Sprintf("## %s\n", title))
	b.WriteString("| Group | Women | Men | Gap % | Note |\n")
	b.WriteString("|-------|-------|-----|-------|------|\n")
	for _, g := range sortedByLabel(groups) {
		note := g.Note
		if note == "" {
			note = "-"
		}
		b.WriteString(fmt.Sprintf("| %s | %d | %d | %+.1f | %s |\n", g.Label, g.WomenCount, g.MenCount, g.GapPct, note))
	}
	b.WriteString("\n")
}

func sortedByLabel(groups []GroupContext) []GroupContext {
	out := append([]GroupContext(nil), groups...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}
