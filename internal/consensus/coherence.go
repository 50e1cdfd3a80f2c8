package consensus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/joelkehle/snomed-consensus/internal/oracle"
	"github.com/joelkehle/snomed-consensus/internal/textsim"
)

// fallback arbitration confidences
const (
	confidenceVerdictDefault = 0.5
	confidenceUnparseable    = 0.3
	confidenceOracleFailed   = 0.0
)

var errNoArbiter = errors.New("no arbitration oracle configured")

type CoherenceFilter struct {
	arbiter    oracle.Oracle
	thresholds Thresholds
	log        *zap.Logger
}

// NewCoherenceFilter builds a filter. A nil arbiter rejects every ambiguous pair.
func NewCoherenceFilter(arbiter oracle.Oracle, thresholds Thresholds, log *zap.Logger) *CoherenceFilter {
	if log == nil {
		log = zap.NewNop()
	}
	return &CoherenceFilter{arbiter: arbiter, thresholds: thresholds, log: log}
}

type FilterResult struct {
	Accepted  []Decision
	Decisions []Decision
	// Arbitrated counts pairs sent to the oracle, whatever the outcome.
	Arbitrated       int
	Rejected         int
	ArbitrationError error
}

// Filter decides every record in one pass. Ambiguous pairs are resolved by a
// single batched oracle call; any failure of that call rejects the whole batch.
func (f *CoherenceFilter) Filter(ctx context.Context, records []ValidatedRecord) FilterResult {
	decisions := make([]Decision, len(records))
	var ambiguous []int
	for i, rec := range records {
		d := Decision{Record: rec}
		if textsim.Normalize(rec.OriginalText) == textsim.Normalize(rec.OfficialText) {
			d.LexicalScore, d.Confidence, d.Accepted = 1, 1, true
			d.Method = DecisionIdentical
			d.Rationale = "identical after normalisation"
			decisions[i] = d
			continue
		}
		d.LexicalScore = LexicalScore(rec.OriginalText, rec.OfficialText)
		d.Confidence = d.LexicalScore
		switch f.thresholds.classify(d.LexicalScore) {
		case verdictAccept:
			d.Accepted, d.Method = true, DecisionLexicalAccept
			d.Rationale = fmt.Sprintf("lexical score %.3f >= %.2f", d.LexicalScore, f.thresholds.Accept)
		case verdictReject:
			d.Method = DecisionLexicalReject
			d.Rationale = fmt.Sprintf("lexical score %.3f <= %.2f", d.LexicalScore, f.thresholds.Reject)
		default:
			d.Method = DecisionArbitrated
			ambiguous = append(ambiguous, i)
		}
		decisions[i] = d
	}

	res := FilterResult{Arbitrated: len(ambiguous)}
	if len(ambiguous) > 0 {
		res.ArbitrationError = f.arbitrate(ctx, decisions, ambiguous)
	}

	for _, d := range decisions {
		if d.Accepted {
			res.Accepted = append(res.Accepted, d)
		} else {
			res.Rejected++
		}
	}
	res.Decisions = decisions
	f.log.Info("coherence filter",
		zap.Int("pairs", len(records)),
		zap.Int("accepted", len(res.Accepted)),
		zap.Int("rejected", res.Rejected),
		zap.Int("arbitrated", res.Arbitrated))
	return res
}

type verdict struct {
	same        bool
	confidence  float64
	explanation string
}

func (f *CoherenceFilter) arbitrate(ctx context.Context, decisions []Decision, batch []int) error {
	verdicts, err := f.askArbiter(ctx, decisions, batch)
	if err != nil {
		conf := confidenceOracleFailed
		if errors.Is(err, oracle.ErrMalformedReply) {
			conf = confidenceUnparseable
		}
		f.log.Warn("arbitration failed, rejecting batch", zap.Int("pairs", len(batch)), zap.Error(err))
		for _, i := range batch {
			settle(&decisions[i], verdict{confidence: conf}, "arbitration failed: "+err.Error())
		}
		return err
	}
	for n, i := range batch {
		v, ok := verdicts[n+1]
		if !ok {
			settle(&decisions[i], verdict{confidence: confidenceVerdictDefault}, "not found in response")
			continue
		}
		settle(&decisions[i], v, v.explanation)
	}
	return nil
}

func settle(d *Decision, v verdict, why string) {
	c := v.confidence
	d.Arbitration = &c
	d.Accepted = v.same
	d.Confidence = (d.LexicalScore + c) / 2
	d.Rationale = fmt.Sprintf("lexical score %.3f ambiguous; arbitration: %s", d.LexicalScore, why)
}

func (f *CoherenceFilter) askArbiter(ctx context.Context, decisions []Decision, batch []int) (map[int]verdict, error) {
	if f.arbiter == nil {
		return nil, errNoArbiter
	}
	pairs := make([][2]string, len(batch))
	for n, i := range batch {
		pairs[n] = [2]string{decisions[i].Record.OriginalText, decisions[i].Record.OfficialText}
	}
	reply, err := f.arbiter.Generate(ctx, buildArbitrationPrompt(pairs))
	if err != nil {
		return nil, err
	}
	return parseVerdicts(reply.Text, len(pairs))
}

func buildArbitrationPrompt(pairs [][2]string) string {
	var sb strings.Builder
	sb.WriteString("Tu es un expert médical. Indique si chaque paire de termes médicaux désigne le MÊME concept clinique :\n\n")
	for i, p := range pairs {
		fmt.Fprintf(&sb, "%d. %q <-> %q\n", i+1, p[0], p[1])
	}
	sb.WriteString(`
Réponds EXACTEMENT avec ce format JSON :
{
  "validations": [
    {"pair": 1, "same_concept": true, "confidence": 0.9, "explanation": "courte explication"}
  ]
}

Règles :
- same_concept = true pour des synonymes médicaux ou le même concept clinique, false sinon
- confidence entre 0.0 et 1.0
- une entrée par paire, numérotée comme ci-dessus`)
	return sb.String()
}

// parseVerdicts indexes verdicts by their 1-based pair number. Entries with an
// out-of-range number are ignored; the legacy French keys are accepted.
func parseVerdicts(text string, n int) (map[int]verdict, error) {
	obj, err := oracle.ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}
	list := gjson.Get(obj, "validations")
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: no validations array", oracle.ErrMalformedReply)
	}
	out := map[int]verdict{}
	list.ForEach(func(_, item gjson.Result) bool {
		idx := firstOf(item, "pair", "paire")
		if idx.Type != gjson.Number {
			return true
		}
		num := int(idx.Int())
		if num < 1 || num > n {
			return true
		}
		v := verdict{confidence: confidenceVerdictDefault}
		if same := firstOf(item, "same_concept", "synonymes"); same.IsBool() {
			v.same = same.Bool()
		}
		if c := firstOf(item, "confidence", "confiance"); c.Type == gjson.Number {
			v.confidence = min(max(c.Float(), 0), 1)
		}
		v.explanation = firstOf(item, "explanation", "explication").String()
		if v.explanation == "" {
			v.explanation = "no explanation"
		}
		if _, dup := out[num]; !dup {
			out[num] = v
		}
		return true
	})
	return out, nil
}

func firstOf(r gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}
