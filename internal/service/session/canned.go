package session

import (
	"errors"

	"ai-voice-relay-service/internal/service/llm"
)

// Canned replies spoken in place of a backend answer.
const (
	RateLimitText      = "你问的太多了，我们的毛都被你撸秃了，你自己去准备一个API，或者一小时后再来吧。"
	RateLimitSentiment = 2

	ConnectivityText      = "你等一下，我连接不上大脑了。你是不是网有问题，或者是账号填错了？"
	ConnectivitySentiment = 1
)

// Messages sent through Transport.SendError.
const (
	MsgInvalidFormat = "invalid message format"
	MsgInternalError = "internal server error"
)

// CannedReply replaces a backend answer after an upstream failure.
type CannedReply struct {
	Reason    string
	Text      string
	Sentiment int
}

var (
	rateLimitReply    = CannedReply{Reason: "rate_limited", Text: RateLimitText, Sentiment: RateLimitSentiment}
	connectivityReply = CannedReply{Reason: "upstream_unavailable", Text: ConnectivityText, Sentiment: ConnectivitySentiment}
)

// cannedFor maps an upstream backend error to its canned reply.
func cannedFor(err error) (CannedReply, bool) {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return rateLimitReply, true
	case errors.Is(err, llm.ErrUpstreamConnection), errors.Is(err, llm.ErrUpstreamProtocol):
		return connectivityReply, true
	default:
		return CannedReply{}, false
	}
}
