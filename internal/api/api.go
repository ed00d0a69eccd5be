// Package api is the presentation collaborator: it translates parsed chat
// commands into core operations and hands plain result values back. All
// audience-facing formatting happens in the chat adapter, not here.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/victornm/quizparty/internal/attempt"
	"github.com/victornm/quizparty/internal/bid"
	"github.com/victornm/quizparty/internal/domain"
	"github.com/victornm/quizparty/internal/errors"
	"github.com/victornm/quizparty/internal/event"
	"github.com/victornm/quizparty/internal/game"
	"github.com/victornm/quizparty/internal/identity"
	"github.com/victornm/quizparty/internal/score"
	"github.com/victornm/quizparty/internal/vote"
)

type Config struct {
	Router   gin.IRouter
	EventBus *event.Bus

	Game     *game.Service
	Attempts *attempt.Service
	Scores   *score.Service
	Votes    *vote.Service
	Bids     *bid.Service
	Identity *identity.Service

	Redis        Redis
	PubsubPrefix string
}

type API struct {
	game     *game.Service
	attempts *attempt.Service
	scores   *score.Service
	votes    *vote.Service
	bids     *bid.Service
	identity *identity.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		game:     c.Game,
		attempts: c.Attempts,
		scores:   c.Scores,
		votes:    c.Votes,
		bids:     c.Bids,
		identity: c.Identity,
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,
	}

	v1 := c.Router.Group("/v1/channels/:channel")
	v1.POST("/game", a.createGame)
	v1.DELETE("/game", a.cancelGame)
	v1.POST("/game/next", a.dealNext)
	v1.GET("/game/current", a.currentClue)
	v1.POST("/game/skip", a.skipClue)
	v1.GET("/game/remaining", a.remaining)
	v1.GET("/game/score", a.userScore)
	v1.GET("/game/scoreboard", a.scoreboard)
	v1.GET("/leaderboard", a.leaderboard)
	v1.POST("/attempts", a.attemptAnswer)
	v1.POST("/votes", a.startVote)
	v1.POST("/votes/:vote/cast", a.castVote)
	v1.POST("/bids", a.recordBid)
	v1.POST("/bids/pick", a.pickBidder)
	v1.POST("/moderation/adjust", a.moderatorAdjust)

	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameClueExpired, func(ctx context.Context, e event.Event) error {
			return a.publishClueExpired(ctx, e.(domain.EventClueExpired))
		})
		c.EventBus.Subscribe(domain.EventNameScoreAdjusted, func(ctx context.Context, e event.Event) error {
			return a.publishScoreAdjusted(ctx, e.(domain.EventScoreAdjusted))
		})
	}

	return a
}

func fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), gin.H{"code": e.Code, "message": e.Message})
}

type createGameRequest struct {
	Mode domain.GameMode `json:"mode"`
	User string          `json:"user"`
}

func (a *API) createGame(c *gin.Context) {
	var req createGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ss, titles, err := a.game.Create(c.Request.Context(), c.Param("channel"), req.Mode)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": ss.SessionID,
		"categories": titles,
	})
}

func (a *API) cancelGame(c *gin.Context) {
	ok, err := a.moderatorCaller(c)
	if err != nil || !ok {
		return
	}

	if err := a.game.Cleanup(c.Request.Context(), c.Param("channel")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) dealNext(c *gin.Context) {
	clue, err := a.game.DealNext(c.Request.Context(), c.Param("channel"))
	if err != nil {
		fail(c, err)
		return
	}

	if clue == nil {
		// Round over: hand the caller the final board.
		sid, err := a.game.SessionID(c.Request.Context(), c.Param("channel"))
		if err != nil {
			fail(c, err)
			return
		}
		board, err := a.scores.RoundBoard(c.Request.Context(), sid)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"round_over": true, "scoreboard": board})
		return
	}

	c.JSON(http.StatusOK, gin.H{"clue": clue})
}

func (a *API) currentClue(c *gin.Context) {
	clue, err := a.game.CurrentClue(c.Request.Context(), c.Param("channel"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clue": clue})
}

func (a *API) skipClue(c *gin.Context) {
	ok, err := a.moderatorCaller(c)
	if err != nil || !ok {
		return
	}

	clue, err := a.game.Skip(c.Request.Context(), c.Param("channel"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": clue.Answer})
}

func (a *API) remaining(c *gin.Context) {
	n, err := a.game.RemainingCount(c.Request.Context(), c.Param("channel"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"remaining": n})
}

type attemptRequest struct {
	User      string `json:"user" binding:"required"`
	Guess     string `json:"guess" binding:"required"`
	Timestamp string `json:"ts" binding:"required"`
}

func (a *API) attemptAnswer(c *gin.Context) {
	var req attemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	v, err := a.attempts.Attempt(c.Request.Context(), c.Param("channel"), req.User, req.Guess, req.Timestamp)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, verdictResponse(v))
}

func verdictResponse(v domain.Verdict) gin.H {
	h := gin.H{
		"duplicate":   v.Duplicate,
		"clue_gone":   v.ClueGone,
		"correct":     v.Correct,
		"exact":       v.Exact,
		"bad_sport":   v.BadSport,
		"score_delta": v.ScoreDelta,
		"round_score": v.RoundScore,
	}
	if v.RevealedAnswer != "" {
		h["revealed_answer"] = v.RevealedAnswer
	}
	return h
}

func (a *API) userScore(c *gin.Context) {
	sid, err := a.game.SessionID(c.Request.Context(), c.Param("channel"))
	if err != nil {
		fail(c, err)
		return
	}

	sc, err := a.scores.UserRoundScore(c.Request.Context(), sid, c.Query("user"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"score": sc})
}

func (a *API) scoreboard(c *gin.Context) {
	sid, err := a.game.SessionID(c.Request.Context(), c.Param("channel"))
	if err != nil {
		fail(c, err)
		return
	}

	board, err := a.scores.RoundBoard(c.Request.Context(), sid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scoreboard": a.withNames(c, board)})
}

func (a *API) leaderboard(c *gin.Context) {
	count := 10
	if v := c.Query("count"); v != "" {
		if n, err := parsePositive(v); err == nil {
			count = n
		}
	}

	board, err := a.scores.Leaderboard(c.Request.Context(), c.Param("channel"), count,
		c.Query("bottom") == "true", c.Query("all_time") != "true")
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": a.withNames(c, board)})
}

type boardRow struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Score  int64  `json:"score"`
}

// withNames decorates board entries with display names from the profile
// cache. A cache miss never fails the board.
func (a *API) withNames(c *gin.Context, board []domain.ScoreEntry) []boardRow {
	rows := make([]boardRow, 0, len(board))
	for _, e := range board {
		p, _ := a.identity.Profile(c.Request.Context(), e.UserID)
		rows = append(rows, boardRow{UserID: e.UserID, Name: p.RealName, Score: e.Score})
	}
	return rows
}

type startVoteRequest struct {
	VoteID string `json:"vote_id" binding:"required"`
}

func (a *API) startVote(c *gin.Context) {
	var req startVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	if err := a.votes.Start(c.Request.Context(), req.VoteID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

type castVoteRequest struct {
	Delta int64 `json:"delta" binding:"required"`
}

func (a *API) castVote(c *gin.Context) {
	var req castVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	tally, ok, err := a.votes.Cast(c.Request.Context(), c.Param("vote"), req.Delta)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tally": tally, "counted": ok})
}

type recordBidRequest struct {
	User   string `json:"user" binding:"required"`
	Amount int64  `json:"amount"`
}

func (a *API) recordBid(c *gin.Context) {
	var req recordBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	amount, ok, err := a.bids.RecordBid(c.Request.Context(), c.Param("channel"), req.User, req.Amount)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount, "accepted": ok})
}

func (a *API) pickBidder(c *gin.Context) {
	user, amount, err := a.bids.PickBidder(c.Request.Context(), c.Param("channel"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "amount": amount})
}

type moderatorAdjustRequest struct {
	Moderator string `json:"moderator" binding:"required"`
	User      string `json:"user"`
	Timestamp string `json:"ts" binding:"required"`
	// Batch reverses every pending response for the timestamp.
	Batch bool `json:"batch"`
}

func (a *API) moderatorAdjust(c *gin.Context) {
	var req moderatorAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ok, err := a.identity.IsModerator(c.Request.Context(), req.Moderator, false)
	if err != nil {
		fail(c, err)
		return
	}
	if !ok {
		fail(c, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("caller is not a moderator")))
		return
	}

	channel := c.Param("channel")
	sid, err := a.game.SessionID(c.Request.Context(), channel)
	if err != nil {
		fail(c, err)
		return
	}

	if req.Batch {
		totals, err := a.scores.ModeratorAdjustBatch(c.Request.Context(), channel, sid, req.Timestamp)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"round_scores": totals})
		return
	}

	total, err := a.scores.ModeratorAdjust(c.Request.Context(), channel, sid, req.User, req.Timestamp)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"round_score": total})
}

// moderatorCaller gates an endpoint on the caller being a moderator. The
// caller id rides in the X-User header; authentication itself is the
// gateway's problem.
func (a *API) moderatorCaller(c *gin.Context) (bool, error) {
	user := c.GetHeader("X-User")
	ok, err := a.identity.IsModerator(c.Request.Context(), user, false)
	if err != nil {
		fail(c, err)
		return false, err
	}
	if !ok {
		fail(c, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("caller is not a moderator")))
	}
	return ok, nil
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err == nil && n <= 0 {
		err = errors.New(errors.CodeInvalidArgument, errors.WithMessagef("count must be positive"))
	}
	return n, err
}
