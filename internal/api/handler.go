package api

import (
	"errors"

	"github.com/fathima-sithara/chat-sync/internal/apperr"
	"github.com/fathima-sithara/chat-sync/internal/auth"
	"github.com/fathima-sithara/chat-sync/internal/composer"
	"github.com/fathima-sithara/chat-sync/internal/conversation"
	"github.com/fathima-sithara/chat-sync/internal/directory"
	"github.com/fathima-sithara/chat-sync/internal/roster"
	"github.com/gofiber/fiber/v2"
)

func (s *Server) registerSelf(c *fiber.Ctx) error {
	p := auth.PrincipalFrom(c)
	err := directory.NewRegistrar(s.store, s.log).RegisterSelf(c.UserContext(), *p)
	// registration is best effort; the session goes on without a directory entry
	return c.JSON(fiber.Map{"principal": p, "registered": err == nil})
}

func (s *Server) loadRoster(c *fiber.Ctx) (*roster.Synchronizer, roster.Snapshot, error) {
	r := roster.New(s.store, roster.Handlers{}, s.log)
	view, err := r.Load(c.UserContext(), auth.PrincipalFrom(c).ID)
	return r, view, err
}

func (s *Server) listRoster(c *fiber.Ctx) error {
	_, view, err := s.loadRoster(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"users": view})
}

func (s *Server) searchRoster(c *fiber.Ctx) error {
	r, _, err := s.loadRoster(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"users": r.Search(c.Query("q"))})
}

func (s *Server) findUser(c *fiber.Ctx) error {
	r, _, err := s.loadRoster(c)
	if err != nil {
		return err
	}
	p, err := r.FindByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(p)
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	key, err := conversation.Resolve(auth.PrincipalFrom(c).ID, c.Params("peer"))
	if err != nil {
		return err
	}
	msgs, err := s.store.Messages(c.UserContext(), key.String())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"key": key, "messages": msgs})
}

type sendMessageReq struct {
	Text string `json:"text"`
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req sendMessageReq
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	r, _, err := s.loadRoster(c)
	if err != nil {
		return err
	}
	peer, err := r.FindByID(c.UserContext(), c.Params("peer"))
	if err != nil {
		return err
	}

	opts := []composer.Option{composer.WithLogger(s.log)}
	if s.pub != nil {
		opts = append(opts, composer.WithPublisher(s.pub))
	}
	m, err := composer.New(s.store, opts...).Send(c.UserContext(), auth.PrincipalFrom(c), peer, req.Text)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, apperr.ErrInvalidArgument), errors.Is(err, apperr.ErrSelfReference):
		code = fiber.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, apperr.ErrBusy):
		code = fiber.StatusConflict
	case errors.Is(err, apperr.ErrSync), errors.Is(err, apperr.ErrSend):
		code = fiber.StatusBadGateway
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
