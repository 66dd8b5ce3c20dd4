package sequencer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/outreachd/internal/experiment"
	"github.com/fyrsmithlabs/outreachd/internal/leads"
	"github.com/fyrsmithlabs/outreachd/internal/optimizer"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

// DefaultOptOutText is appended to every touch of the default pack.
const DefaultOptOutText = "Reply STOP to unsubscribe"

// DefaultSender is the identity used when a pack names none.
func DefaultSender() SenderIdentity {
	return SenderIdentity{
		Name:    "Sales Team",
		Email:   "sales@outreachd.example",
		Company: "Outreachd LLC",
		Address: "100 Main Street, Springfield",
	}
}

// DisclosureText renders one required disclosure as a footer line that
// starts with its name, which is what the compliance gate looks for.
func DisclosureText(name string, sender SenderIdentity) string {
	var text string
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sender identity":
		text = sender.Name + ", " + sender.Company
	case "physical address":
		text = sender.Address
	case "opt-out mechanism", "unsubscribe mechanism", "unsubscribe facility":
		text = "reply STOP to this message and you will not be contacted again"
	case "contact information":
		text = sender.Email + ", " + sender.Address
	case "data controller identity":
		text = sender.Company + ", " + sender.Address
	case "legal basis for processing":
		text = "legitimate interest in offering services relevant to your business"
	case "right to withdraw consent":
		text = "you may withdraw consent at any time by replying STOP"
	case "right to erasure":
		text = "write to " + sender.Email + " and we will delete your data"
	case "data protection officer contact":
		text = sender.Email
	case "privacy notice":
		text = "ask " + sender.Email + " for how we process your data"
	default:
		text = "contact " + sender.Email
	}
	return name + ": " + text
}

// DefaultPack builds the three-touch email pack for a lead: an opener on
// day 0, a follow-up three days later and a last touch after seven. Every
// touch carries the text of each disclosure p requires.
func DefaultPack(lead leads.LeadCard, offer, language string, p *policy.Policy) Pack {
	if language == "" {
		language = "en"
	}
	var disclosures []string
	if p != nil {
		disclosures = append(disclosures, p.RequiredDisclosures...)
	}
	sender := DefaultSender()
	company := lead.Company
	industry := strings.ToLower(lead.Industry)
	signature := fmt.Sprintf("Best regards,\n%s\n%s\n%s", sender.Name, sender.Company, sender.Address)
	if len(disclosures) > 0 {
		lines := make([]string, len(disclosures))
		for i, d := range disclosures {
			lines[i] = DisclosureText(d, sender)
		}
		signature += "\n\n" + strings.Join(lines, "\n")
	}

	touch := func(day int, subject, body, cta string) Touch {
		return Touch{
			DayOffset:   day,
			Channel:     policy.ChannelEmail,
			Subject:     subject,
			Body:        body + "\n\n" + signature,
			CTA:         cta,
			Disclosures: append([]string(nil), disclosures...),
		}
	}

	return Pack{
		ID:       uuid.NewString(),
		Name:     fmt.Sprintf("%s - %s", lead.Industry, lead.Geo.Country),
		Language: language,
		Variant:  "A",
		Touches: []Touch{
			touch(0,
				fmt.Sprintf("Quick question about %s's customer communication", company),
				fmt.Sprintf("Hi there,\n\nI noticed %s is in the %s industry. Many %s businesses struggle with missed calls and customer communication.\n\n%s\n\nWould you be open to a quick 15-minute demo to see how we can help %s?",
					company, industry, industry, offer, company),
				"Reply to this email"),
			touch(3,
				fmt.Sprintf("Following up: %s for %s", offer, company),
				fmt.Sprintf("Hi again,\n\nFollowing up on my previous email about %s for %s.\n\nQuick question: are you currently handling all customer calls manually, or do you have an automated system?\n\nIf you are interested, you can book a 15-minute demo here: [DEMO_LINK]",
					offer, company),
				"Book a 15-minute demo"),
			touch(7,
				fmt.Sprintf("Last follow-up: %s", company),
				fmt.Sprintf("Hi,\n\nThis is my last follow-up. I understand you're busy, so I'll keep this brief.\n\n%s, built for %s businesses like %s.\n\nIf you'd like to learn more, reply to this email or book a time here: [DEMO_LINK]\n\nOtherwise I'll assume it's not a priority right now and won't reach out again.",
					offer, industry, company),
				"Schedule a call"),
		},
		OptOutText: DefaultOptOutText,
		Sender:     sender,
	}
}

var hourPattern = regexp.MustCompile(`(?i)(\d{1,2})(?::\d{2})?\s*(am|pm)?`)

// windowStartHour parses the first hour of a timing variant such as
// "Morning (8-10am)", "Afternoon (3-5pm)" or "14:00".
func windowStartHour(variant string) (int, bool) {
	body := variant
	if i := strings.Index(body, "("); i >= 0 {
		body = body[i+1:]
	}
	m := hourPattern.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil || hour > 23 {
		return 0, false
	}
	suffix := strings.ToLower(m[2])
	if suffix == "" {
		// "3-5pm" carries its suffix on the end of the range.
		if tail := hourPattern.FindAllStringSubmatch(body, -1); len(tail) > 1 {
			suffix = strings.ToLower(tail[len(tail)-1][2])
		}
	}
	if suffix == "pm" && hour < 12 {
		hour += 12
	}
	return hour, true
}

func subjectFor(variant, company, offer, industry string) string {
	switch strings.ToLower(variant) {
	case "question-based subject":
		return fmt.Sprintf("Quick question about %s's customer communication", company)
	case "value proposition subject":
		return fmt.Sprintf("%s for %s", offer, company)
	case "personalized subject":
		return fmt.Sprintf("%s: an idea for your %s team", company, industry)
	default:
		return variant
	}
}

// ApplyAssignments rewrites the pack for the assigned variants. Subject
// variants replace the opener's subject, CTA variants every touch's call
// to action and timing variants the local send hour. Segment and landing
// variants only label the pack.
func (p *Pack) ApplyAssignments(as []experiment.Assignment, lead leads.LeadCard, offer string) {
	labels := make([]string, 0, len(as))
	for _, a := range as {
		labels = append(labels, string(a.Variable)+"="+a.Variant)
		switch a.Variable {
		case optimizer.VariableSubject:
			if len(p.Touches) > 0 {
				p.Touches[0].Subject = subjectFor(a.Variant, lead.Company, offer, strings.ToLower(lead.Industry))
			}
		case optimizer.VariableCTA:
			for i := range p.Touches {
				p.Touches[i].CTA = a.Variant
			}
		case optimizer.VariableTiming:
			if h, ok := windowStartHour(a.Variant); ok {
				p.SendAfterHour = h
			}
		}
	}
	if len(labels) > 0 {
		p.Variant = strings.Join(labels, ",")
	}
}
