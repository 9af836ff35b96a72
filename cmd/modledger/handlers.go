package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sushiibot/modledger/modlog/executor"
	"github.com/sushiibot/modledger/modlog/ledger"
	"github.com/sushiibot/modledger/modlog/reconcile"

	"github.com/labstack/echo/v4"
)

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	// the request logging middleware hands errors back to echo after already reporting them
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	errStr := "InternalError"
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		errStr = http.StatusText(code)
		msg = fmt.Sprintf("%v", he.Message)
		if ge, ok := he.Message.(GenericError); ok {
			errStr, msg = ge.Error, ge.Message
		}
	}
	if code >= 500 {
		srv.logger.Warn("modledger-http-internal-error", "err", err)
	}
	if err := c.JSON(code, GenericError{Error: errStr, Message: msg}); err != nil {
		srv.logger.Error("writing error response", "err", err)
	}
}

func badRequest(errStr string, err error) error {
	return echo.NewHTTPError(http.StatusBadRequest, GenericError{Error: errStr, Message: err.Error()})
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	sqldb, err := srv.db.DB()
	if err == nil {
		err = sqldb.PingContext(c.Request().Context())
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, GenericStatus{Daemon: "modledger", Status: "error", Message: "database not reachable"})
	}
	return c.JSON(http.StatusOK, GenericStatus{Daemon: "modledger", Status: "ok"})
}

type actionInput struct {
	CommunityID       uint64   `json:"community_id"`
	Action            string   `json:"action"`
	Targets           []uint64 `json:"targets"`
	Reason            *string  `json:"reason,omitempty"`
	ExecutorID        uint64   `json:"executor_id"`
	DurationSeconds   *int64   `json:"duration_seconds,omitempty"`
	DeleteMessageDays int      `json:"delete_message_days,omitempty"`
	Exclude           []uint64 `json:"exclude,omitempty"`
}

type actionOutput struct {
	Title  string           `json:"title"`
	Text   string           `json:"text"`
	Report *executor.Report `json:"report"`
	// set when processing stopped early
	Error string `json:"error,omitempty"`
}

func (srv *Server) HandleExecute(c echo.Context) error {
	var in actionInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	action, err := ledger.ParseAction(in.Action)
	if err != nil {
		return badRequest("InvalidAction", err)
	}
	req := executor.Request{
		CommunityID:       in.CommunityID,
		Action:            action,
		Targets:           in.Targets,
		Reason:            in.Reason,
		ExecutorID:        in.ExecutorID,
		DeleteMessageDays: in.DeleteMessageDays,
		Exclude:           in.Exclude,
	}
	if in.DurationSeconds != nil {
		d := time.Duration(*in.DurationSeconds) * time.Second
		req.Duration = &d
	}

	report, err := srv.executor.Execute(c.Request().Context(), req)
	if errors.Is(err, executor.ErrNoTargets) || errors.Is(err, executor.ErrDurationRequired) {
		return badRequest("InvalidRequest", err)
	}
	if report == nil {
		return err
	}
	out := actionOutput{Title: report.Title(), Text: report.Text(), Report: report}
	if err != nil {
		srv.logger.Error("action stopped early", "community", in.CommunityID, "action", action, "err", err)
		out.Error = err.Error()
		return c.JSON(http.StatusInternalServerError, out)
	}
	return c.JSON(http.StatusOK, out)
}

func (srv *Server) HandleMemberUpdate(c echo.Context) error {
	var ev reconcile.MemberUpdate
	if err := c.Bind(&ev); err != nil {
		return err
	}
	transition, err := srv.reconciler.HandleMemberUpdate(c.Request().Context(), ev)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"transition": transition.String()})
}

func (srv *Server) HandleMemberJoin(c echo.Context) error {
	var ev reconcile.MemberJoin
	if err := c.Bind(&ev); err != nil {
		return err
	}
	if err := srv.reconciler.HandleMemberJoin(c.Request().Context(), ev); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, GenericStatus{Daemon: "modledger", Status: "ok"})
}

type casesOutput struct {
	Cases []ledger.Case `json:"cases"`
}

func uintParam(c echo.Context, name string) (uint64, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, badRequest("InvalidParam", fmt.Errorf("invalid %s: %q", name, c.Param(name)))
	}
	return v, nil
}

func intQuery(c echo.Context, name string, def int64) (int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest("InvalidParam", fmt.Errorf("invalid %s: %q", name, raw))
	}
	return v, nil
}

func (srv *Server) HandleCaseRange(c echo.Context) error {
	communityID, err := uintParam(c, "community")
	if err != nil {
		return err
	}
	start, err := intQuery(c, "start", 1)
	if err != nil {
		return err
	}
	end, err := intQuery(c, "end", start)
	if err != nil {
		return err
	}
	cases, err := srv.ledger.Range(c.Request().Context(), communityID, start, end)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, casesOutput{Cases: cases})
}

func (srv *Server) HandleLatestCases(c echo.Context) error {
	communityID, err := uintParam(c, "community")
	if err != nil {
		return err
	}
	limit, err := intQuery(c, "limit", int64(ledger.DefaultLatestCount))
	if err != nil {
		return err
	}
	cases, err := srv.ledger.Latest(c.Request().Context(), communityID, int(limit))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, casesOutput{Cases: cases})
}

func (srv *Server) HandleTargetHistory(c echo.Context) error {
	communityID, err := uintParam(c, "community")
	if err != nil {
		return err
	}
	targetID, err := uintParam(c, "target")
	if err != nil {
		return err
	}
	cases, err := srv.ledger.ForTarget(c.Request().Context(), communityID, targetID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, casesOutput{Cases: cases})
}

type amendInput struct {
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
	ExecutorID uint64 `json:"executor_id"`
	Reason     string `json:"reason"`
}

func (srv *Server) HandleAmendReason(c echo.Context) error {
	communityID, err := uintParam(c, "community")
	if err != nil {
		return err
	}
	var in amendInput
	if err := c.Bind(&in); err != nil {
		return err
	}
	if in.End == 0 {
		in.End = in.Start
	}
	res, err := srv.reporter.AmendReason(c.Request().Context(), communityID, in.Start, in.End, in.ExecutorID, in.Reason)
	if errors.Is(err, ledger.ErrCaseNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no cases found between %d and %d", in.Start, in.End))
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (srv *Server) HandleInvalidateConfig(c echo.Context) error {
	communityID, err := uintParam(c, "community")
	if err != nil {
		return err
	}
	if err := srv.configs.Invalidate(c.Request().Context(), communityID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, GenericStatus{Daemon: "modledger", Status: "ok"})
}

func (srv *Server) HandleExpiryTick(c echo.Context) error {
	sum, err := srv.scanner.Tick(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sum)
}
