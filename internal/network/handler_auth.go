package network

import (
	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/eventbus"
	"github.com/annel0/mmo-world/internal/gameerr"
	"github.com/annel0/mmo-world/internal/protocol"
)

const msgSignupOK = "Created! Now Login."

func (gh *GameHandler) handleSignup(c *Client, env protocol.Envelope) error {
	var req protocol.SignupRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	if _, err := gh.auth.Signup(req.Username, req.Password); err != nil {
		return err
	}
	c.SendSeq(protocol.EvAuthSuccess, protocol.Message{Message: msgSignupOK}, env.Seq)
	return nil
}

// handleLogin проверяет учётные данные (пароль или токен), подключает
// персонажа к соединению и рассылает его появление.
func (gh *GameHandler) handleLogin(c *Client, env protocol.Envelope) error {
	if c.Username() != "" {
		return gameerr.Validation(protocol.EvLogin, "already logged in")
	}
	var req protocol.LoginRequest
	if err := env.Bind(&req); err != nil {
		return err
	}

	var (
		user  *auth.User
		token string
		err   error
	)
	if req.Token != "" {
		user, _, err = gh.auth.Verify(req.Token)
		if err != nil {
			gh.log.Debug("🔐 Токен отклонён для %s: %v", c.ID(), err)
			return gameerr.New(gameerr.AuthFailure, protocol.EvLogin, auth.MsgInvalidCredentials)
		}
		token = req.Token
	} else {
		user, token, err = gh.auth.Login(req.Username, req.Password)
		if err != nil {
			return err
		}
	}

	s, reconnect, err := gh.roster.Login(gh.ctx, c.ID(), user.Username, req.Model)
	if err != nil {
		return err
	}
	c.setUsername(s.Username())

	c.SendSeq(protocol.EvLoginSuccess, protocol.LoginSuccess{
		ID:        c.ID(),
		Player:    s.FullState(),
		Inventory: s.Inventory(),
		Token:     token,
		Reconnect: reconnect,
	}, env.Seq)
	c.Send(protocol.EvCurrentPlayers, gh.currentPlayers())

	online := protocol.PlayerRef{ID: c.ID(), Player: s.NetworkPacket()}
	gh.hub.Broadcast(protocol.EvPlayerOnline, online, c.ID())
	gh.publish(eventbus.TypePlayerOnline, eventbus.PriorityNormal, online)
	return nil
}

// currentPlayers - все резидентные персонажи (онлайн и offline-idle) по ID соединения
func (gh *GameHandler) currentPlayers() map[string]interface{} {
	resident := gh.roster.Resident()
	out := make(map[string]interface{}, len(resident))
	for _, s := range resident {
		out[s.ID()] = s.NetworkPacket()
	}
	return out
}
