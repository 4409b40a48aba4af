// Package rules holds the business policy for the support bot as a
// versioned, structured rule set instead of one hand-edited prompt string.
// The rule set is rendered into the oracle instruction block per turn and is
// unit-testable independent of the oracle.
package rules

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Markers are the sentinel substrings the oracle is instructed to embed in
// its reply when an action should fire. They are stripped before the reply
// is shown to the user.
type Markers struct {
	QuoteForm   string `yaml:"quoteForm"`
	PhoneNumber string `yaml:"phoneNumber"`
}

// Set is one version of the support policy.
type Set struct {
	Version     int     `yaml:"version"`
	CompanyName string  `yaml:"companyName"`
	Markers     Markers `yaml:"markers"`

	// Trigger phrase lists: when the customer says any of these, the
	// rendered prompt instructs the oracle to emit the matching marker.
	QuoteTriggerPhrases []string `yaml:"quoteTriggerPhrases"`
	PhoneTriggerPhrases []string `yaml:"phoneTriggerPhrases"`

	// Topic allow-list terms that are always considered on-topic.
	RelevantTerms []string `yaml:"relevantTerms"`

	// Canned response fragments referenced by the policy.
	EmailAsk     string `yaml:"emailAsk"`
	PhoneAsk     string `yaml:"phoneAsk"`
	QuoteIntro   string `yaml:"quoteIntro"`
	OffTopic     string `yaml:"offTopic"`
	Farewell     string `yaml:"farewell"`
	ApologyReply string `yaml:"apologyReply"`

	// Policy is the static instruction body describing role and tone.
	Policy string `yaml:"policy"`
}

// Default returns the built-in policy version shipped with the binary.
func Default() Set {
	return Set{
		Version:     3,
		CompanyName: "Signize",
		Markers: Markers{
			QuoteForm:   "[QUOTE_FORM_TRIGGER]",
			PhoneNumber: "[PHONE_NUMBER_TRIGGER]",
		},
		QuoteTriggerPhrases: []string{
			"i want a mockup", "i want a quote",
			"i need a mockup", "i need a quote",
			"get a mockup", "get a quote",
			"want pricing", "need pricing",
			"want estimate", "need estimate",
			"update my quote", "modify my quote", "change my quote",
		},
		PhoneTriggerPhrases: []string{
			"call me", "call you",
			"speak to someone", "talk to someone",
			"human", "representative", "expert", "agent",
			"connect me with someone",
		},
		RelevantTerms: []string{
			"sign", "signs", "3d", "2d", "metal", "acrylic", "vinyl",
			"led", "neon", "installation", "mounting", "materials",
			"pricing", "quote", "design", "custom", "lighting",
			"illumination", "channel letters", "backlit",
		},
		EmailAsk: "Hi there! I'd be happy to help you with your sign needs. " +
			"First, could you please provide your email address so I can save " +
			"your information and follow up with you?",
		PhoneAsk: "I'd be happy to have someone call you! Could you please " +
			"provide your phone number so I can have a sign expert reach out to you?",
		QuoteIntro: "I'd be happy to help you get a quote and create a mockup! " +
			"I'll need to collect some specific details from you. Let me open a " +
			"form for you to fill out with all the necessary information.",
		OffTopic: "I'm sorry, but I'm specifically trained to help with " +
			"signage-related questions and customer support. Is there something " +
			"about signs, materials, installation, or our services that I can " +
			"help you with?",
		Farewell: "Thank you for reaching out! It was a pleasure helping you " +
			"today. If you have any more questions about signs or need " +
			"assistance in the future, feel free to reach out. Have a great day!",
		ApologyReply: "Sorry, I encountered an error. Please try again.",
		Policy: strings.TrimSpace(`
You are an AI-powered Customer Support Representative for a company
specializing in custom sign design and production.

Your job is to provide excellent customer support for general signage
queries and help customers get quotes and mockups when requested.

- Be warm, professional, and engaging. Use active listening.
- Answer questions about sign types, materials, mounting, illumination and
  installation directly and specifically. Never fall back to a generic
  greeting when the customer is asking about signs.
- If the customer asks whether you are an AI, answer that you are an
  AI-powered customer support representative.
- Keep the chat focused and efficient. Redirect unrelated topics back to
  signage politely.
- On the customer's first message, always ask for their email address before
  anything else. Once the email is collected, never ask for it again in the
  same session, even after a goodbye.
- For goodbye messages, give a warm farewell. Goodbyes do not reset the
  session or the collected email.`),
	}
}

// Load reads a rule set from a YAML file. Fields missing from the file keep
// their built-in defaults, so a policy file only needs to state overrides.
func Load(path string) (Set, error) {
	set := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return set, fmt.Errorf("read rules: %w", err)
	}
	if err := yaml.Unmarshal(data, &set); err != nil {
		return set, fmt.Errorf("parse rules: %w", err)
	}
	if err := set.Validate(); err != nil {
		return set, err
	}
	return set, nil
}

// Validate rejects rule sets that cannot drive the trigger pipeline.
func (s Set) Validate() error {
	if s.Version <= 0 {
		return fmt.Errorf("rules: version must be positive")
	}
	if strings.TrimSpace(s.Markers.QuoteForm) == "" {
		return fmt.Errorf("rules: quote form marker required")
	}
	if strings.TrimSpace(s.Markers.PhoneNumber) == "" {
		return fmt.Errorf("rules: phone number marker required")
	}
	if s.Markers.QuoteForm == s.Markers.PhoneNumber {
		return fmt.Errorf("rules: markers must be distinct")
	}
	return nil
}

// MatchesQuoteTrigger reports whether the user text contains any configured
// quote trigger phrase. Used for rule-level tests; the oracle performs the
// authoritative matching at inference time.
func (s Set) MatchesQuoteTrigger(text string) bool {
	return containsAnyFold(text, s.QuoteTriggerPhrases)
}

// MatchesPhoneTrigger reports whether the user text contains any configured
// phone trigger phrase.
func (s Set) MatchesPhoneTrigger(text string) bool {
	return containsAnyFold(text, s.PhoneTriggerPhrases)
}

func containsAnyFold(text string, phrases []string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range phrases {
		if phrase == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}
