package consensus

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/joelkehle/snomed-consensus/internal/oracle"
)

func newFilter(t *testing.T, arbiter oracle.Oracle) *CoherenceFilter {
	return NewCoherenceFilter(arbiter, DefaultThresholds(), zaptest.NewLogger(t))
}

func fixedArbiter(text string, err error) *countingOracle {
	return &countingOracle{text: text, err: err}
}

type countingOracle struct {
	text    string
	err     error
	calls   int
	prompts []string
}

func (c *countingOracle) Generate(_ context.Context, prompt string) (oracle.Reply, error) {
	c.calls++
	c.prompts = append(c.prompts, prompt)
	return oracle.Reply{Text: c.text}, c.err
}

func TestFilterAutoDecisionsSkipArbitration(t *testing.T) {
	arb := fixedArbiter("", nil)
	res := newFilter(t, arb).Filter(context.Background(), []ValidatedRecord{
		record(0, "Varicelle", "38907003", "varicelle"),
		record(0, "soins locaux", "225365006", "soins"),
		record(0, "abc", "1", "xyz"),
	})

	assert.Zero(t, arb.calls)
	require.Len(t, res.Decisions, 3)
	assert.Equal(t, DecisionIdentical, res.Decisions[0].Method)
	assert.Equal(t, 1.0, res.Decisions[0].Confidence)
	assert.Equal(t, DecisionLexicalAccept, res.Decisions[1].Method)
	assert.InDelta(t, 0.625, res.Decisions[1].Confidence, 1e-9)
	assert.Equal(t, DecisionLexicalReject, res.Decisions[2].Method)
	assert.False(t, res.Decisions[2].Accepted)

	assert.Len(t, res.Accepted, 2)
	assert.Equal(t, 1, res.Rejected)
	assert.Zero(t, res.Arbitrated)
}

func TestFilterBatchesAmbiguousPairsIntoOneCall(t *testing.T) {
	arb := &judgeArbiter{same: func(original, official string) bool { return official == "démangeaison" }}
	res := newFilter(t, arb).Filter(context.Background(), []ValidatedRecord{
		record(0, "prurit", "418290006", "démangeaison"),
		record(1, "prurit", "21522001", "douleur abdominale"),
		record(1, "soins locaux", "410177006", "enseignement d'une diète spéciale"),
	})

	assert.Equal(t, 1, arb.Calls())
	assert.Equal(t, 3, res.Arbitrated)
	require.Len(t, res.Accepted, 1)
	acc := res.Accepted[0]
	assert.Equal(t, "418290006", acc.Record.ResolvedCode)
	assert.Equal(t, DecisionArbitrated, acc.Method)
	require.NotNil(t, acc.Arbitration)
	assert.InDelta(t, (0.025+0.9)/2, acc.Confidence, 1e-9)
	assert.Equal(t, 2, res.Rejected)
	assert.NoError(t, res.ArbitrationError)
}

func TestFilterMissingIndexIsRejected(t *testing.T) {
	arb := fixedArbiter(`{"validations":[{"pair":1,"same_concept":true,"confidence":0.8,"explanation":"synonymes"}]}`, nil)
	res := newFilter(t, arb).Filter(context.Background(), []ValidatedRecord{
		record(0, "prurit", "418290006", "démangeaison"),
		record(0, "céphalée", "25064002", "migraine"),
	})

	require.Len(t, res.Decisions, 2)
	assert.True(t, res.Decisions[0].Accepted)
	missing := res.Decisions[1]
	assert.False(t, missing.Accepted)
	assert.Contains(t, missing.Rationale, "not found in response")
	require.NotNil(t, missing.Arbitration)
	assert.Equal(t, 0.5, *missing.Arbitration)
}

func TestFilterMalformedBatchRejectsAll(t *testing.T) {
	for _, reply := range []string{"je ne sais pas", `{"validations": "oui"}`, `{"verdicts": []}`} {
		arb := fixedArbiter(reply, nil)
		res := newFilter(t, arb).Filter(context.Background(), []ValidatedRecord{
			record(0, "prurit", "418290006", "démangeaison"),
			record(0, "céphalée", "25064002", "migraine"),
		})
		assert.Empty(t, res.Accepted, "reply %q", reply)
		assert.Equal(t, 2, res.Rejected)
		assert.ErrorIs(t, res.ArbitrationError, oracle.ErrMalformedReply)
		for _, d := range res.Decisions {
			require.NotNil(t, d.Arbitration)
			assert.Equal(t, 0.3, *d.Arbitration)
		}
	}
}

func TestFilterOracleFailureFailsClosed(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("%w: refusal", oracle.ErrSafetyBlocked),
		fmt.Errorf("%w: daily limit", oracle.ErrAdmissionDenied),
		fmt.Errorf("%w: timeout", oracle.ErrUnavailable),
	} {
		res := newFilter(t, fixedArbiter("", err)).Filter(context.Background(), []ValidatedRecord{
			record(0, "prurit", "418290006", "démangeaison"),
			record(0, "varicelle", "38907003", "varicelle"),
		})
		require.Len(t, res.Accepted, 1, "identical pairs survive arbitration failures")
		assert.Equal(t, "varicelle", res.Accepted[0].Record.OriginalText)
		assert.ErrorIs(t, res.ArbitrationError, err)
		assert.Equal(t, 0.0, *res.Decisions[0].Arbitration)
	}
}

func TestFilterWithoutArbiterRejectsAmbiguous(t *testing.T) {
	res := newFilter(t, nil).Filter(context.Background(), []ValidatedRecord{record(0, "prurit", "418290006", "démangeaison")})
	assert.Empty(t, res.Accepted)
	assert.Error(t, res.ArbitrationError)
}

func TestFilterAcceptsLegacyVerdictKeys(t *testing.T) {
	arb := fixedArbiter("```json\n"+`{"validations":[{"paire":1,"synonymes":true,"confiance":1.7,"explication":"même concept"}]}`+"\n```", nil)
	res := newFilter(t, arb).Filter(context.Background(), []ValidatedRecord{record(0, "prurit", "418290006", "démangeaison")})
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, 1.0, *res.Accepted[0].Arbitration, "confidence is clamped")
	assert.Contains(t, res.Accepted[0].Rationale, "même concept")
}

func TestFilterIgnoresOutOfRangeAndDuplicateIndexes(t *testing.T) {
	arb := fixedArbiter(`{"validations":[
		{"pair":1,"same_concept":false,"confidence":0.9},
		{"pair":1,"same_concept":true,"confidence":0.9},
		{"pair":7,"same_concept":true,"confidence":0.9},
		{"pair":"2","same_concept":true}
	]}`, nil)
	res := newFilter(t, arb).Filter(context.Background(), []ValidatedRecord{
		record(0, "prurit", "418290006", "démangeaison"),
		record(0, "céphalée", "25064002", "migraine"),
	})
	assert.Empty(t, res.Accepted)
	assert.Contains(t, res.Decisions[1].Rationale, "not found in response")
}

func TestArbitrationPromptNumbersPairs(t *testing.T) {
	arb := fixedArbiter(`{"validations":[]}`, nil)
	newFilter(t, arb).Filter(context.Background(), []ValidatedRecord{
		record(0, "prurit", "418290006", "démangeaison"),
		record(0, "céphalée", "25064002", "migraine"),
	})
	require.Len(t, arb.prompts, 1)
	p := arb.prompts[0]
	assert.True(t, strings.Contains(p, `1. "prurit" <-> "démangeaison"`), p)
	assert.True(t, strings.Contains(p, `2. "céphalée" <-> "migraine"`), p)
}
