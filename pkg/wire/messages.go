// Package wire defines the tagged JSON messages exchanged on the game and
// chat channels. Messages are framed one per line (UTF-8, no embedded
// newlines); the shared structs let client implementations decode the exact
// shapes the server emits.
package wire

// Client→server tags on the game channel.
const (
	TagAuth        = "auth"
	TagCreateLobby = "create_lobby"
	TagListLobbies = "list_lobbies"
	TagJoinLobby   = "join_lobby"
	TagStartGame   = "start_game"
	TagMove        = "move"
	TagResign      = "resign"
	TagSpectate    = "spectate"
)

// Server→client tags on the game channel.
const (
	TagAuthAck           = "auth_ack"
	TagLobbyCreated      = "lobby_created"
	TagLobbyList         = "lobby_list"
	TagLobbyJoined       = "lobby_joined"
	TagLobbyMemberChange = "lobby_member_changed"
	TagLobbyClosed       = "lobby_closed"
	TagGameStarted       = "game_started"
	TagGameAnnouncement  = "game_announcement"
	TagState             = "state"
	TagGameOver          = "game_over"
	TagSpectating        = "spectating"
	TagNewSpectator      = "new_spectator"
	TagError             = "error"
)

// Chat channel tags.
const (
	TagChat          = "chat"
	TagChatConnected = "chat_connected"
)

// Stable error reason codes carried in Error replies.
const (
	ReasonMissingName          = "missing_name"
	ReasonUnauthenticated      = "unauthenticated"
	ReasonAlreadyAuthenticated = "already_authenticated"
	ReasonAlreadyInLobby       = "already_in_lobby"
	ReasonLobbyNotFound        = "lobby_not_found"
	ReasonLobbyFull            = "lobby_full"
	ReasonNotHost              = "not_host"
	ReasonInsufficientPlayers  = "insufficient_players"
	ReasonGameNotFound         = "game_not_found"
	ReasonGameOver             = "game_over"
	ReasonNotAParticipant      = "not_a_participant"
	ReasonNotYourTurn          = "not_your_turn"
	ReasonIllegalMove          = "illegal_move"
	ReasonMalformedPromotion   = "malformed_promotion"
	ReasonAlreadyPresent       = "already_present"
	ReasonNoActiveScope        = "no_active_scope"
	ReasonUnknownTag           = "unknown_tag"
	ReasonMalformed            = "malformed"
)

// Chat link scopes.
const (
	ScopeGame  = "game"
	ScopeLobby = "lobby"
)

// Roster change events carried by LobbyMemberChanged.
const (
	EventPlayerJoined = "player_joined"
	EventPlayerLeft   = "player_left"
	EventLobbyFull    = "lobby_full"
)

// ClientMessage is the envelope for every client→server game-channel message.
// Which fields are required depends on Tag; DecodeClient enforces that.
type ClientMessage struct {
	Tag     string `json:"tag"`
	Name    string `json:"name,omitempty"`
	LobbyID string `json:"lobbyId,omitempty"`
	GameID  string `json:"gameId,omitempty"`
	Move    string `json:"move,omitempty"`
}

// ChatHello binds a chat connection to an identity and a single scope.
// It must be the first message on every chat connection and carries no tag.
type ChatHello struct {
	IdentityID string `json:"identityId"`
	Scope      string `json:"scope"`
	ScopeID    string `json:"scopeId"`
}

// ChatSend is a client→server chat message after the link is bound.
type ChatSend struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

type AuthAck struct {
	Tag        string `json:"tag"`
	IdentityID string `json:"identityId"`
}

type LobbyCreated struct {
	Tag     string `json:"tag"`
	LobbyID string `json:"lobbyId"`
}

// LobbyInfo is one entry of a LobbyList; only waiting lobbies are listed.
type LobbyInfo struct {
	LobbyID  string   `json:"lobbyId"`
	Host     string   `json:"host"`
	Players  []string `json:"players"`
	Seats    int      `json:"seats"`
	MaxSeats int      `json:"maxSeats"`
}

type LobbyList struct {
	Tag     string      `json:"tag"`
	Lobbies []LobbyInfo `json:"lobbies"`
}

type LobbyJoined struct {
	Tag     string   `json:"tag"`
	LobbyID string   `json:"lobbyId"`
	Host    string   `json:"host"`
	Players []string `json:"players"`
}

// LobbyMemberChanged announces roster changes to seated players. Event is
// one of "player_joined", "player_left" or "lobby_full"; Status flips to
// "full" when the second seat is taken.
type LobbyMemberChanged struct {
	Tag     string   `json:"tag"`
	LobbyID string   `json:"lobbyId"`
	Event   string   `json:"event"`
	Player  string   `json:"player,omitempty"`
	Players []string `json:"players"`
	Status  string   `json:"status"`
}

type LobbyClosed struct {
	Tag     string `json:"tag"`
	LobbyID string `json:"lobbyId"`
}

type GameStarted struct {
	Tag         string `json:"tag"`
	GameID      string `json:"gameId"`
	White       string `json:"white"`
	Black       string `json:"black"`
	TimeControl int    `json:"timeControl"`
}

// GameAnnouncement invites every identity that is not a player to spectate.
type GameAnnouncement struct {
	Tag    string `json:"tag"`
	GameID string `json:"gameId"`
	White  string `json:"white"`
	Black  string `json:"black"`
}

// State is the per-recipient snapshot of one game. All fields are identical
// for every recipient except YourTurn, which is computed relative to the
// receiving identity and is always false for spectators.
type State struct {
	Tag         string   `json:"tag"`
	GameID      string   `json:"gameId"`
	FEN         string   `json:"fen"`
	Turn        string   `json:"turn"`
	YourTurn    bool     `json:"yourTurn"`
	InCheck     bool     `json:"inCheck"`
	LegalMoves  []string `json:"legalMoves"`
	White       string   `json:"white"`
	Black       string   `json:"black"`
	WhiteTime   int      `json:"whiteTime"`
	BlackTime   int      `json:"blackTime"`
	MoveHistory []string `json:"moveHistory"`
}

// GameOver carries the terminal result. Winner is a color ("white"/"black")
// or empty for drawn results.
type GameOver struct {
	Tag    string `json:"tag"`
	GameID string `json:"gameId"`
	Result string `json:"result"`
	Winner string `json:"winner,omitempty"`
}

type Spectating struct {
	Tag    string `json:"tag"`
	GameID string `json:"gameId"`
	White  string `json:"white"`
	Black  string `json:"black"`
}

type NewSpectator struct {
	Tag       string `json:"tag"`
	GameID    string `json:"gameId"`
	Spectator string `json:"spectator"`
}

type ChatConnected struct {
	Tag string `json:"tag"`
}

type ChatMessage struct {
	Tag       string `json:"tag"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Error is the structured failure reply. Reason is a stable code from the
// Reason* set; Message is catalog text safe to show to users.
type Error struct {
	Tag     string `json:"tag"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func NewError(reason, message string) Error {
	return Error{Tag: TagError, Reason: reason, Message: message}
}
