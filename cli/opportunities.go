// ABOUTME: Opportunity CLI commands
// ABOUTME: Lists, shows, reviews, and exports detected co-sell opportunities
package cli

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/harperreed/cosell/db"
	"github.com/harperreed/cosell/models"
)

// leadingID pulls an ID given before the flags, so both `review <id> --status x`
// and `review --status x <id>` work.
func leadingID(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

func resolveID(id string, fs *flag.FlagSet) (uuid.UUID, error) {
	if id == "" {
		if fs.NArg() == 0 {
			return uuid.Nil, fmt.Errorf("opportunity ID is required")
		}
		id = fs.Arg(0)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid opportunity ID: %w", err)
	}
	return parsed, nil
}

// ListCommand lists detected opportunities.
func ListCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status: new, review, confirmed, synced, rejected")
	action := fs.String("action", "", "Filter by CRM action: create, link, already_linked")
	partner := fs.String("partner", "", "Filter by partner name")
	customer := fs.String("customer", "", "Filter by customer name")
	scanID := fs.String("scan", "", "Only opportunities from this scan session")
	minConfidence := fs.Float64("min-confidence", 0, "Minimum confidence between 0 and 1")
	limit := fs.Int("limit", 50, "Maximum results")
	_ = fs.Parse(args)

	if *status != "" && !models.IsValidStatus(*status) {
		return fmt.Errorf("invalid status: %s (valid: new, review, confirmed, synced, rejected)", *status)
	}

	opps, err := db.FindOpportunities(database, db.OpportunityFilter{
		Status:        *status,
		CRMAction:     models.CRMAction(*action),
		ScanID:        *scanID,
		Partner:       *partner,
		Customer:      *customer,
		MinConfidence: *minConfidence,
		Limit:         *limit,
	})
	if err != nil {
		return fmt.Errorf("failed to list opportunities: %w", err)
	}

	if len(opps) == 0 {
		fmt.Println("No opportunities found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATE\tSTATUS\tCONFIDENCE\tPARTNER\tCUSTOMER\tCRM\tSUBJECT\tID")
	_, _ = fmt.Fprintln(w, "----\t------\t----------\t-------\t--------\t---\t-------\t--")
	for _, opp := range opps {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f %s\t%s\t%s\t%s\t%s\t%s\n",
			opp.Communication.OccurredAt.Format(dateLayout),
			opp.Status,
			opp.Confidence,
			models.BucketFor(opp.Confidence),
			orDash(opp.PartnerName()),
			orDash(opp.CustomerName()),
			opp.CRMAction,
			truncate(opp.Communication.Subject, 40),
			opp.ID,
		)
	}
	_ = w.Flush()

	fmt.Printf("\n%d opportunities\n", len(opps))
	return nil
}

// ShowCommand prints one opportunity with its qualification and review history.
func ShowCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	full := fs.Bool("full", false, "Print the full communication content")
	id, rest := leadingID(args)
	_ = fs.Parse(rest)

	oppID, err := resolveID(id, fs)
	if err != nil {
		return err
	}

	opp, err := db.GetOpportunity(database, oppID)
	if err != nil {
		return fmt.Errorf("failed to get opportunity: %w", err)
	}
	if opp == nil {
		return fmt.Errorf("opportunity not found: %s", oppID)
	}

	actions, err := db.GetOpportunityActions(database, oppID)
	if err != nil {
		return fmt.Errorf("failed to get actions: %w", err)
	}

	printOpportunity(os.Stdout, opp, actions, *full)
	return nil
}

func printOpportunity(out io.Writer, opp *models.DetectedOpportunity, actions []models.OpportunityAction, full bool) {
	field := func(label, value string) {
		if value == "" {
			return
		}
		_, _ = fmt.Fprintf(out, "  %-14s %s\n", label+":", value)
	}

	_, _ = fmt.Fprintln(out, render(headerStyle, opp.Communication.Subject))
	field("ID", opp.ID.String())
	field("Status", render(statusStyle(opp.Status), opp.Status))
	field("Confidence", fmt.Sprintf("%.2f (%s)", opp.Confidence, render(bucketStyle(models.BucketFor(opp.Confidence)), models.BucketFor(opp.Confidence))))
	field("Source", fmt.Sprintf("%s from %s on %s", opp.Communication.Type, opp.Communication.From, opp.Communication.OccurredAt.Format("2006-01-02 15:04")))
	if opp.Partner != nil {
		field("Partner", fmt.Sprintf("%s (%.2f)", opp.Partner.Name, opp.Partner.Confidence))
	}
	if opp.Customer != nil {
		field("Customer", fmt.Sprintf("%s (%.2f)", opp.Customer.Name, opp.Customer.Confidence))
	}
	field("Solution", string(opp.SolutionArea))
	field("Keywords", strings.Join(opp.MatchedKeywords, ", "))
	field("CRM action", string(opp.CRMAction))
	if opp.ExistingOpportunityID != "" {
		field("CRM record", fmt.Sprintf("%s %s", opp.ExistingOpportunityID, opp.ExistingOpportunityName))
	}
	field("Referral", opp.ExistingReferralID)
	field("Scan", opp.ScanID)
	field("Summary", opp.Summary)
	field("Notes", opp.Notes)

	if b := opp.BANT; b != nil {
		_, _ = fmt.Fprintf(out, "\n%s %d/100\n", render(headerStyle, "BANT"), b.Score)
		if b.Budget != nil {
			field("Budget", fmt.Sprintf("$%.0f", b.Budget.AmountUSD))
		}
		if b.Authority != nil {
			for _, c := range []*models.Contact{b.Authority.CustomerContact, b.Authority.PartnerContact} {
				if c != nil {
					field("Authority", strings.TrimSpace(c.Name+" "+c.Title))
				}
			}
		}
		if b.Need != nil {
			field("Need", b.Need.Description)
		}
		if b.Timeline != nil {
			field("Timeline", strings.TrimSpace(b.Timeline.Timeframe+" "+b.Timeline.Urgency))
		}
		if len(b.MissingElements) > 0 {
			field("Missing", strings.Join(b.MissingElements, ", "))
		}
	}

	content := opp.Communication.Content
	if !full {
		content = truncate(content, 500)
	}
	_, _ = fmt.Fprintf(out, "\n%s\n%s\n", render(headerStyle, "CONTENT"), content)

	if len(actions) > 0 {
		_, _ = fmt.Fprintf(out, "\n%s\n", render(headerStyle, "HISTORY"))
		for _, a := range actions {
			line := fmt.Sprintf("  %s  %s", a.PerformedAt.Format("2006-01-02 15:04"), a.Type)
			if a.PreviousStatus != "" || a.NewStatus != "" {
				line += fmt.Sprintf(" %s → %s", orDash(a.PreviousStatus), a.NewStatus)
			}
			if a.PerformedBy != "" {
				line += " by " + a.PerformedBy
			}
			if a.Notes != "" {
				line += render(dimStyle, " ("+a.Notes+")")
			}
			_, _ = fmt.Fprintln(out, line)
		}
	}

	if next := db.NextStatuses(opp.Status); len(next) > 0 {
		_, _ = fmt.Fprintf(out, "\nNext: %s\n", strings.Join(next, ", "))
	}
}

// ReviewCommand moves an opportunity through the review workflow.
func ReviewCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("review", flag.ExitOnError)
	status := fs.String("status", "", "New status: review, confirmed, rejected, synced (required)")
	notes := fs.String("notes", "", "Reviewer notes")
	by := fs.String("by", os.Getenv("USER"), "Reviewer name")
	crmID := fs.String("crm-id", "", "CRM record ID when marking synced")
	id, rest := leadingID(args)
	_ = fs.Parse(rest)

	oppID, err := resolveID(id, fs)
	if err != nil {
		return err
	}
	if *status == "" {
		return fmt.Errorf("--status is required")
	}

	var action *models.OpportunityAction
	if *status == models.StatusSynced && *crmID != "" {
		action, err = db.MarkSynced(database, oppID, *crmID, *by)
	} else {
		action, err = db.UpdateOpportunityStatus(database, oppID, *status, *notes, *by)
	}
	if err != nil {
		return fmt.Errorf("failed to review opportunity: %w", err)
	}

	fmt.Printf("✓ Opportunity %s: %s → %s\n", oppID, action.PreviousStatus, render(statusStyle(action.NewStatus), action.NewStatus))
	return nil
}
