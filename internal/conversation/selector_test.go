package conversation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bitrepository/reference-sub015/internal/conversation"
	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/pkg/logger"
)

func positive(id, destination string) *model.Message {
	return &model.Message{
		Kind:          model.KindIdentifyResponse,
		ContributorID: id,
		ReplyTo:       destination,
		ResponseInfo:  &model.ResponseInfo{Code: model.ResponseIdentificationPositive},
	}
}

func mustStrategy(t *testing.T, op model.OperationType) conversation.Strategy {
	t.Helper()
	s, err := conversation.StrategyFor(op)
	require.NoError(t, err)
	return s
}

func TestResponseStatus(t *testing.T) {
	s := conversation.NewResponseStatus([]string{"p1", "p2", "p2", ""})
	assert.Equal(t, []string{"p1", "p2"}, s.ShouldRespond())
	assert.Equal(t, []string{"p1", "p2"}, s.Outstanding())
	assert.False(t, s.IsFinished())

	require.NoError(t, s.ResponseReceived("p2"))
	assert.Equal(t, []string{"p1"}, s.Outstanding())
	assert.False(t, s.IsOutstanding("p2"))

	err := s.ResponseReceived("p2")
	assert.ErrorIs(t, err, conversation.ErrUnexpectedResponse)

	err = s.ResponseReceived("p3")
	assert.ErrorIs(t, err, conversation.ErrUnexpectedResponse)
	var unexpected *conversation.UnexpectedResponseError
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, "p3", unexpected.ContributorID)

	assert.ErrorIs(t, s.ResponseReceived(""), conversation.ErrUnexpectedResponse)
	assert.Equal(t, []string{"p1"}, s.Outstanding())

	require.NoError(t, s.ResponseReceived("p1"))
	assert.True(t, s.IsFinished())
	assert.Empty(t, s.Outstanding())
	assert.Equal(t, []string{"p1", "p2"}, s.ShouldRespond())
}

func TestResponseStatusForComponents(t *testing.T) {
	s := conversation.NewResponseStatusForComponents([]conversation.SelectedContributor{
		{ComponentDestination: model.ComponentDestination{ContributorID: "p2", Destination: "d2"}},
		{ComponentDestination: model.ComponentDestination{ContributorID: "p1", Destination: "d1"}},
	})
	assert.Equal(t, []string{"p2", "p1"}, s.ShouldRespond())
	assert.True(t, s.Expects("p1"))
	assert.False(t, s.Expects("p3"))
}

func TestSelector_MembershipIndependentOfOrder(t *testing.T) {
	orders := [][]string{
		{"p1", "p2", "p3"},
		{"p3", "p2", "p1"},
		{"p2", "p1", "p3"},
		{"p2", "p3", "p1"},
	}
	responses := map[string]*model.Message{
		"p1": positive("p1", "pillar.p1"),
		"p2": {
			Kind:          model.KindIdentifyResponse,
			ContributorID: "p2",
			ReplyTo:       "pillar.p2",
			ResponseInfo:  &model.ResponseInfo{Code: model.ResponseIdentificationNegative},
		},
		"p3": positive("p3", "pillar.p3"),
	}

	want := []model.ComponentDestination{
		{ContributorID: "p1", Destination: "pillar.p1"},
		{ContributorID: "p3", Destination: "pillar.p3"},
	}
	for _, order := range orders {
		sel := conversation.NewSelector([]string{"p1", "p2", "p3"}, mustStrategy(t, model.OperationGetChecksums), nil)
		for _, id := range order {
			_, _ = sel.ProcessResponse(responses[id])
		}
		require.True(t, sel.IsFinished())

		var got []model.ComponentDestination
		for _, c := range sel.SelectedContributors() {
			got = append(got, c.ComponentDestination)
		}
		assert.ElementsMatch(t, want, got, "order %v", order)
	}
}

func TestSelector_IdenticalDuplicateIgnored(t *testing.T) {
	sel := conversation.NewSelector([]string{"p1", "p2"}, mustStrategy(t, model.OperationGetChecksums), nil)

	outcome, err := sel.ProcessResponse(positive("p1", "pillar.p1"))
	require.NoError(t, err)
	assert.Equal(t, conversation.OutcomeSelected, outcome)

	outcome, err = sel.ProcessResponse(positive("p1", "pillar.p1"))
	require.NoError(t, err)
	assert.Equal(t, conversation.OutcomeDuplicate, outcome)

	assert.False(t, sel.IsFinished())
	assert.Equal(t, []string{"p2"}, sel.Outstanding())
	assert.Len(t, sel.SelectedContributors(), 1)
}

func TestSelector_ConflictingDuplicateKeepsFirst(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sel := conversation.NewSelector([]string{"p1"}, mustStrategy(t, model.OperationGetChecksums),
		logger.FromZap(zap.New(core)))

	_, err := sel.ProcessResponse(positive("p1", "pillar.p1"))
	require.NoError(t, err)

	outcome, err := sel.ProcessResponse(positive("p1", "pillar.elsewhere"))
	require.NoError(t, err)
	assert.Equal(t, conversation.OutcomeConflict, outcome)

	selected := sel.SelectedContributors()
	require.Len(t, selected, 1)
	assert.Equal(t, "pillar.p1", selected[0].Destination)

	warnings := logs.FilterMessageSnippet("conflicting identify response").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "pillar.elsewhere", warnings[0].ContextMap()["destination"])
}

func TestSelector_UnexpectedContributor(t *testing.T) {
	sel := conversation.NewSelector([]string{"p1"}, mustStrategy(t, model.OperationGetChecksums), nil)

	_, err := sel.ProcessResponse(positive("stranger", "pillar.stranger"))
	assert.ErrorIs(t, err, conversation.ErrUnexpectedResponse)
	assert.Equal(t, []string{"p1"}, sel.Outstanding())
	assert.False(t, sel.Answered("stranger"))

	_, err = sel.ProcessResponse(positive("", "pillar.nobody"))
	assert.ErrorIs(t, err, conversation.ErrUnexpectedResponse)
	assert.Equal(t, []string{"p1"}, sel.Outstanding())
	assert.Empty(t, sel.SelectedContributors())
}

func TestSelector_MalformedAndNegative(t *testing.T) {
	sel := conversation.NewSelector([]string{"p1", "p2"}, mustStrategy(t, model.OperationGetChecksums), nil)

	_, err := sel.ProcessResponse(&model.Message{Kind: model.KindIdentifyResponse, ContributorID: "p1", ReplyTo: "pillar.p1"})
	assert.ErrorIs(t, err, conversation.ErrUnexpectedResponse)
	assert.True(t, sel.Answered("p1"))

	_, err = sel.ProcessResponse(&model.Message{
		Kind:          model.KindIdentifyResponse,
		ContributorID: "p2",
		ReplyTo:       "pillar.p2",
		ResponseInfo:  &model.ResponseInfo{Code: model.ResponseRequestNotSupported, Text: "no audit trails"},
	})
	var negative *conversation.NegativeResponseError
	require.ErrorAs(t, err, &negative)
	assert.Equal(t, model.ResponseRequestNotSupported, negative.Info.Code)
	assert.ErrorIs(t, err, conversation.ErrNegativeResponse)

	assert.True(t, sel.IsFinished())
	assert.Empty(t, sel.SelectedContributors())
	assert.False(t, sel.AllAbsent())
}

func TestSelector_AbsentCodes(t *testing.T) {
	sel := conversation.NewSelector([]string{"p1", "p2"}, mustStrategy(t, model.OperationDeleteFile), nil)

	outcome, err := sel.ProcessResponse(&model.Message{
		Kind:          model.KindIdentifyResponse,
		ContributorID: "p1",
		ReplyTo:       "pillar.p1",
		ResponseInfo:  &model.ResponseInfo{Code: model.ResponseFileNotFoundFailure},
	})
	require.NoError(t, err)
	assert.Equal(t, conversation.OutcomeAbsent, outcome)
	assert.True(t, sel.AllAbsent())

	_, err = sel.ProcessResponse(positive("p2", "pillar.p2"))
	require.NoError(t, err)
	assert.False(t, sel.AllAbsent())
	assert.Len(t, sel.SelectedContributors(), 1)
}

func TestSelector_FallsBackToSender(t *testing.T) {
	sel := conversation.NewSelector([]string{"p1"}, mustStrategy(t, model.OperationGetStatus), nil)

	msg := positive("p1", "")
	msg.From = "pillar.p1.inbox"
	_, err := sel.ProcessResponse(msg)
	require.NoError(t, err)
	assert.Equal(t, "pillar.p1.inbox", sel.SelectedContributors()[0].Destination)
}

func TestSelector_Fastest(t *testing.T) {
	withTTD := func(id string, d *time.Duration) *model.Message {
		m := positive(id, "pillar."+id)
		m.TimeToDeliver = d
		return m
	}
	second, minute := time.Second, time.Minute
	sameSecond := time.Second

	sel := conversation.NewSelector([]string{"p1", "p2", "p3", "p4"}, mustStrategy(t, model.OperationGetFile), nil)
	for _, m := range []*model.Message{
		withTTD("p1", nil),
		withTTD("p2", &minute),
		withTTD("p3", &second),
		withTTD("p4", &sameSecond),
	} {
		_, err := sel.ProcessResponse(m)
		require.NoError(t, err)
	}

	selected := sel.SelectedContributors()
	require.Len(t, selected, 1)
	assert.Equal(t, "p3", selected[0].ContributorID)
}

func TestStrategyFor(t *testing.T) {
	for _, op := range model.OperationTypes {
		s, err := conversation.StrategyFor(op)
		require.NoError(t, err, op)
		assert.Equal(t, op, s.Operation)
		if op.IsModifying() {
			assert.Equal(t, conversation.FailOnPartial, s.IdentifyTimeout, op)
			assert.False(t, s.PartialSuccessOnTimeout, op)
		} else {
			assert.Equal(t, conversation.ProceedWithPartial, s.IdentifyTimeout, op)
		}
	}

	get, _ := conversation.StrategyFor(model.OperationGetFile)
	assert.Equal(t, conversation.SelectFastest, get.Selection)

	del, _ := conversation.StrategyFor(model.OperationDeleteFile)
	assert.True(t, del.IsAbsent(model.ResponseFileNotFoundFailure))
	del.AbsentCodes[0] = model.ResponseFailure
	again, _ := conversation.StrategyFor(model.OperationDeleteFile)
	assert.True(t, again.IsAbsent(model.ResponseFileNotFoundFailure))

	_, err := conversation.StrategyFor("Explode")
	assert.Error(t, err)
}

func TestParsePolicies(t *testing.T) {
	sel, err := conversation.ParseSelectionPolicy(" Fastest ")
	require.NoError(t, err)
	assert.Equal(t, conversation.SelectFastest, sel)
	_, err = conversation.ParseSelectionPolicy("random")
	assert.Error(t, err)

	idt, err := conversation.ParseIdentifyTimeoutPolicy("FAIL")
	require.NoError(t, err)
	assert.Equal(t, conversation.FailOnPartial, idt)
	_, err = conversation.ParseIdentifyTimeoutPolicy("retry")
	assert.Error(t, err)
}
