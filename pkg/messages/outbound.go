package messages

// OutboundMessage is how we wrap responses before sending
// them to the client
type OutboundMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// GameMessage is the composite game state broadcast on every accepted
// action. Legal moves are rendered as "<uci>[/Promotion]/<index>"; an index
// from a client is only valid against the list in the message it read.
type GameMessage struct {
	LastMoveFrom       string   `json:"lastMoveFrom"`
	LastMoveTo         string   `json:"lastMoveTo"`
	GameStatus         string   `json:"gameStatus"`
	PositionStatus     string   `json:"positionStatus"`
	LegalMoves         []string `json:"legalMoves"`
	Turn               string   `json:"turn"`
	MoveCount          int      `json:"moveCount"`
	Position           string   `json:"position"`
	RemainingWhiteTime int64    `json:"remainingWhiteTime"`
	RemainingBlackTime int64    `json:"remainingBlackTime"`
	History            string   `json:"history"`
	PlayerWhite        string   `json:"playerWhite"`
	PlayerBlack        string   `json:"playerBlack"`
}

// MoveAck is the compact caller-only confirmation of an accepted move.
type MoveAck struct {
	GameID             string `json:"gameId"`
	GameStatus         string `json:"gameStatus"`
	Position           string `json:"position"`
	History            string `json:"history"`
	RemainingWhiteTime int64  `json:"remainingWhiteTime"`
	RemainingBlackTime int64  `json:"remainingBlackTime"`
}

// ErrorPayload carries a failure reply to the originating caller only.
type ErrorPayload struct {
	Message string `json:"message"`
}

// GameNotFoundPayload answers a join for an unknown game.
type GameNotFoundPayload struct {
	GameID string `json:"gameId"`
}

// RequestPayload is a tie or rematch request delivered to the opponent's
// personal channel.
type RequestPayload struct {
	GameID string `json:"gameId"`
	From   string `json:"from"`
}

// InvitePayload is a room invite delivered to a personal channel.
type InvitePayload struct {
	RoomID string `json:"roomId"`
	From   string `json:"from"`
}

// RoomReadyPayload reports an invitee's readiness to the room creator.
// An empty From cancels a previous ready state.
type RoomReadyPayload struct {
	RoomID string `json:"roomId"`
	From   string `json:"from"`
}

// GameStartingPayload tells a room that its game session is up.
type GameStartingPayload struct {
	GameID string `json:"gameId"`
	RoomID string `json:"roomId"`
}
