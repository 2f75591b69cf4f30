// Package history keeps compressed revisions of analysis payloads per page
// and compares them.
package history

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/lotas/perfdebug/internal/applog"
	"github.com/lotas/perfdebug/internal/params"
	"github.com/lotas/perfdebug/internal/storage"
	"github.com/lotas/perfdebug/internal/types"
)

// PageKey identifies a page independent of the debug parameters and the
// fragment, so runs with different toggles land in one history.
func PageKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	q := u.Query()
	for _, p := range types.DebugParameters {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	u.ForceQuery = false
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// LabelFor names the debug parameters active in raw, e.g. "nocache,perfmattersoff".
func LabelFor(raw string) string {
	present := params.FromURL(raw)
	var on []string
	for _, p := range present.Sorted() {
		for _, d := range types.DebugParameters {
			if p == d {
				on = append(on, p)
			}
		}
	}
	return strings.Join(on, ",")
}

// Record stores payload as a new revision of the page at pageURL. It skips
// saving when the newest revision carries an identical payload. Returns the
// rev, whether a revision was created, and the diff against the previous
// revision (nil if first or skipped).
func Record(db *sql.DB, pageURL string, tab types.TabID, payload []byte) (rev int, created bool, diff *DiffResult, err error) {
	key := PageKey(pageURL)

	latest, err := storage.LatestAnalysis(db, key)
	if err != nil {
		return 0, false, nil, fmt.Errorf("get latest analysis: %w", err)
	}
	if latest != nil && latest.Hash == storage.HashPayload(payload) {
		applog.Info("history.skipped", "url", key, "rev", latest.Rev)
		return latest.Rev, false, nil, nil
	}

	newRev, err := storage.SaveAnalysis(db, key, int(tab), payload, LabelFor(pageURL))
	if err != nil {
		return 0, false, nil, err
	}
	applog.Info("history.created", "url", key, "rev", newRev, "bytes", len(payload))

	if latest != nil {
		before, err := types.DecodeAnalysis(latest.Payload)
		if err != nil {
			return newRev, true, nil, fmt.Errorf("decode rev %d: %w", latest.Rev, err)
		}
		after, err := types.DecodeAnalysis(payload)
		if err != nil {
			return newRev, true, nil, fmt.Errorf("decode rev %d: %w", newRev, err)
		}
		diff = Diff(before, after)
		diff.URL = key
		diff.RevFrom = latest.Rev
		diff.RevTo = newRev
	}
	return newRev, true, diff, nil
}

// Load returns the decoded revision of pageURL. rev 0 means latest.
func Load(db *sql.DB, pageURL string, rev int) (*storage.AnalysisRevision, *types.Analysis, error) {
	key := PageKey(pageURL)
	var r *storage.AnalysisRevision
	var err error
	if rev == 0 {
		r, err = storage.LatestAnalysis(db, key)
		if err == nil && r == nil {
			err = fmt.Errorf("no history for %s", key)
		}
	} else {
		r, err = storage.GetAnalysis(db, key, rev)
	}
	if err != nil {
		return nil, nil, err
	}
	a, err := types.DecodeAnalysis(r.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("decode rev %d: %w", r.Rev, err)
	}
	return r, a, nil
}

// DiffRevisions compares two stored revisions of pageURL. revTo 0 means the
// latest revision; revFrom 0 means the one before revTo.
func DiffRevisions(db *sql.DB, pageURL string, revFrom, revTo int) (*DiffResult, error) {
	key := PageKey(pageURL)
	list, err := storage.ListAnalyses(db, key)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no history for %s", key)
	}
	if revTo == 0 {
		revTo = list[0].Rev
	}
	if revFrom == 0 {
		for _, s := range list {
			if s.Rev < revTo && s.Rev > revFrom {
				revFrom = s.Rev
			}
		}
		if revFrom == 0 {
			return nil, fmt.Errorf("no revision before %d for %s", revTo, key)
		}
	}

	_, from, err := Load(db, key, revFrom)
	if err != nil {
		return nil, err
	}
	_, to, err := Load(db, key, revTo)
	if err != nil {
		return nil, err
	}
	d := Diff(from, to)
	d.URL = key
	d.RevFrom = revFrom
	d.RevTo = revTo
	return d, nil
}
