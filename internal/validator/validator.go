// Package validator checks whether an address is worth sending to: syntax,
// likely domain typos, disposable providers, mail exchangers and, optionally,
// whether the mailbox accepts RCPT TO.
package validator

import (
	"bufio"
	"context"
	_ "embed"
	"net"
	"net/mail"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Reason says why an address was rejected.
type Reason string

const (
	ReasonMalformed       Reason = "malformed"
	ReasonTypo            Reason = "typo"
	ReasonDisposable      Reason = "disposable"
	ReasonNoMX            Reason = "no_mx"
	ReasonSMTP            Reason = "smtp_unreachable"
	ReasonValidationError Reason = "validation_error"
)

type Result struct {
	Valid  bool
	Reason Reason
}

func valid() Result                { return Result{Valid: true} }
func invalid(reason Reason) Result { return Result{Valid: false, Reason: reason} }

// Resolver is the subset of *net.Resolver the checker uses.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Prober asks a mail exchanger whether it accepts mail for to.
// It returns ErrMailboxRejected for a permanent refusal.
type Prober interface {
	Probe(ctx context.Context, mxHost, from, to string) error
}

//go:embed disposable_domains.txt
var disposableList string

// knownDomains are real mailbox providers. Their labels are never typos.
var knownDomains = []string{
	"gmail.com", "googlemail.com", "yahoo.com", "hotmail.com", "outlook.com",
	"icloud.com", "live.com", "aol.com", "msn.com", "me.com", "mac.com",
	"protonmail.com", "proton.me", "pm.me", "gmx.com", "gmx.de", "gmx.net", "mail.com",
	"email.com", "ymail.com", "rocketmail.com", "yandex.com", "yandex.ru", "mail.ru",
	"comcast.net", "att.net", "verizon.net", "sbcglobal.net", "btinternet.com",
	"hotmail.co.uk", "hotmail.ca", "hotmail.fr", "hotmail.de", "hotmail.it", "hotmail.es",
	"yahoo.co.uk", "yahoo.ca", "yahoo.fr", "yahoo.de", "yahoo.it", "yahoo.es",
	"yahoo.co.in", "yahoo.co.jp", "yahoo.com.au", "yahoo.com.br",
	"outlook.fr", "outlook.de", "live.ca", "live.co.uk", "fastmail.com", "zoho.com",
	"web.de", "libero.it", "orange.fr", "qq.com", "163.com",
}

// Brands shorter than this are too close to ordinary words to compare.
const minBrandLen = 5

var (
	knownLabels = map[string]bool{}
	brands      []string
)

func init() {
	for _, d := range knownDomains {
		label := registrableLabel(d)
		if !knownLabels[label] && len(label) >= minBrandLen {
			brands = append(brands, label)
		}
		knownLabels[label] = true
	}
}

// A substitution costs one edit, same as an insertion or deletion.
var editOptions = levenshtein.Options{InsCost: 1, DelCost: 1, SubCost: 1, Matches: levenshtein.IdenticalRunes}

// badTLDs are misspellings of .com; none of them is a delegated TLD.
var badTLDs = map[string]bool{"con": true, "cmo": true, "vom": true, "xom": true, "comm": true, "ocm": true}

// secondLevel are the labels used under country codes, as in co.uk or com.au.
var secondLevel = map[string]bool{"co": true, "com": true, "net": true, "org": true, "ac": true, "gov": true, "edu": true, "ne": true, "or": true}

// Checker runs the checks in order and stops at the first rejection.
// Prober may be nil to skip the mailbox check.
type Checker struct {
	Resolver Resolver
	Prober   Prober

	disposable map[string]bool
}

func New(resolver Resolver, prober Prober) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Checker{
		Resolver:   resolver,
		Prober:     prober,
		disposable: loadDisposable(),
	}
}

func loadDisposable() map[string]bool {
	set := make(map[string]bool)
	sc := bufio.NewScanner(strings.NewReader(disposableList))
	for sc.Scan() {
		if d := strings.TrimSpace(sc.Text()); d != "" && !strings.HasPrefix(d, "#") {
			set[strings.ToLower(d)] = true
		}
	}
	return set
}

// Validate checks email as if sent from sender. A non-nil error means the
// check itself could not complete; callers decide how to treat that.
func (c *Checker) Validate(ctx context.Context, email, sender string) (Result, error) {
	email = strings.TrimSpace(email)
	domain, ok := splitDomain(email)
	if !ok {
		return invalid(ReasonMalformed), nil
	}
	if isTypo(domain) {
		return invalid(ReasonTypo), nil
	}
	if c.disposable[domain] {
		return invalid(ReasonDisposable), nil
	}

	mxs, err := c.Resolver.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return invalid(ReasonNoMX), nil
		}
		return Result{}, errors.Wrapf(err, "lookup mx for %s", domain)
	}
	if len(mxs) == 0 {
		return invalid(ReasonNoMX), nil
	}

	if c.Prober == nil {
		return valid(), nil
	}
	return c.probe(ctx, mxs, sender, email)
}

func (c *Checker) probe(ctx context.Context, mxs []*net.MX, from, to string) (Result, error) {
	sort.SliceStable(mxs, func(i, j int) bool { return mxs[i].Pref < mxs[j].Pref })

	var lastErr error
	for _, mx := range mxs {
		host := strings.TrimSuffix(mx.Host, ".")
		err := c.Prober.Probe(ctx, host, from, to)
		if err == nil {
			return valid(), nil
		}
		if errors.Is(err, ErrMailboxRejected) {
			return invalid(ReasonSMTP), nil
		}
		logrus.WithError(err).WithField("mx", host).Debug("mx probe failed, trying next")
		lastErr = err
	}
	return Result{}, errors.Wrap(lastErr, "no mail exchanger answered")
}

// splitDomain returns the lower-cased domain of a bare address.
func splitDomain(email string) (string, bool) {
	if strings.Count(email, "@") != 1 {
		return "", false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return "", false
	}
	at := strings.LastIndex(email, "@")
	local, domain := email[:at], strings.ToLower(email[at+1:])
	if local == "" || !strings.Contains(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", false
	}
	return domain, true
}

// registrableLabel returns the label a person actually types as the provider
// name: "yahoo" for yahoo.co.jp, "gmail" for mail.gmail.com.
func registrableLabel(domain string) string {
	labels := strings.Split(domain, ".")
	n := len(labels)
	switch {
	case n >= 3 && secondLevel[labels[n-2]] && len(labels[n-1]) == 2:
		return labels[n-3]
	case n >= 2:
		return labels[n-2]
	}
	return domain
}

// isTypo flags domains whose provider label is one edit (or one swap of
// adjacent letters) away from a known provider, or that end in a mistyped TLD.
func isTypo(domain string) bool {
	if tld := domain[strings.LastIndex(domain, ".")+1:]; badTLDs[tld] {
		return true
	}
	label := registrableLabel(domain)
	if knownLabels[label] {
		return false
	}
	for _, brand := range brands {
		d := levenshtein.DistanceForStrings([]rune(label), []rune(brand), editOptions)
		if d == 1 || (d == 2 && (swapped(label, brand) || len(brand) >= 8)) {
			return true
		}
	}
	return false
}

// swapped reports whether a and b differ by exactly one adjacent transposition.
func swapped(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i+1 < len(a); i++ {
		if a[i] != b[i] {
			return a[i] == b[i+1] && a[i+1] == b[i] && a[i+2:] == b[i+2:]
		}
	}
	return false
}
