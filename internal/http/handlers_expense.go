package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/ports"
)

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params, err := ParseMonthParams(r.URL.Query(), s.now().In(s.expenses.Location()))
	if err != nil {
		s.write(w, r, BadRequestError(err.Error()))
		return
	}

	ov, err := s.expenses.MonthSummary(ctx, params.Year, params.Month)
	if err != nil {
		s.requestLogger(r).ErrorContext(ctx, "Month summary error", log.NewFields().
			WithError(err).
			WithOperation(log.OpSummary).
			ToSlice()...)
		s.write(w, r, InternalServerError("Could not load the month summary"))
		return
	}
	s.write(w, r, NewResponse().JSON(toSummaryResponse(ov)))
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := ParseExpenseFilter(r.URL.Query(), s.now().In(s.expenses.Location()), s.expenses.MonthRange)
	if err != nil {
		s.write(w, r, BadRequestError(err.Error()))
		return
	}

	items, err := s.expenses.ListExpenses(ctx, filter)
	if err != nil {
		s.requestLogger(r).ErrorContext(ctx, "List expenses error", log.NewFields().
			WithError(err).
			WithOperation(log.OpList).
			ToSlice()...)
		s.write(w, r, InternalServerError("Could not load expenses"))
		return
	}

	s.write(w, r, NewResponse().JSON(struct {
		Expenses []expenseJSON `json:"expenses"`
		Count    int           `json:"count"`
		Total    string        `json:"total"`
	}{
		Expenses: toExpensesJSON(items),
		Count:    len(items),
		Total:    core.Total(items).String(),
	}))
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createExpenseRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		if errors.Is(err, core.ErrInvalidAmount) {
			s.write(w, r, UnprocessableEntityError("Invalid amount"))
			return
		}
		s.write(w, r, BadRequestError(err.Error()))
		return
	}

	e := req.expense()
	id, err := s.expenses.CreateExpense(ctx, e)
	switch {
	case errors.Is(err, core.ErrEmptyName), errors.Is(err, core.ErrNameTooLong):
		s.write(w, r, UnprocessableEntityError("Invalid expense: "+err.Error()))
		return
	case err != nil:
		s.requestLogger(r).ErrorContext(ctx, "Expense create error", log.NewFields().
			WithError(err).
			WithExpense(0, e.Name, e.Amount, e.Category).
			WithOperation(log.OpCreate).
			ToSlice()...)
		s.write(w, r, InternalServerError("Could not save"))
		return
	}

	e.ID = id
	if e.Timestamp == 0 {
		if stored, err := s.expenses.GetExpense(ctx, id); err == nil {
			e = stored
		}
	}
	s.write(w, r, NewResponse().
		Status(http.StatusCreated).
		Header("Location", "/expenses/"+strconv.FormatInt(id, 10)).
		JSON(toExpenseJSON(e)))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.write(w, r, BadRequestError("Invalid expense ID"))
		return
	}

	if err := s.expenses.DeleteExpense(ctx, id); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			s.write(w, r, NotFoundError("Expense not found"))
			return
		}
		s.requestLogger(r).ErrorContext(ctx, "Expense delete error",
			log.FieldError, err.Error(),
			log.FieldExpenseID, id,
			log.FieldOperation, log.OpDelete)
		s.write(w, r, InternalServerError("Could not delete"))
		return
	}
	s.write(w, r, NewResponse().Status(http.StatusNoContent))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cats, err := s.expenses.ListCategories(ctx)
	if err != nil {
		s.requestLogger(r).ErrorContext(ctx, "List categories error", log.FieldError, err.Error())
		s.write(w, r, InternalServerError("Could not load categories"))
		return
	}
	s.write(w, r, NewResponse().JSON(toCategoriesJSON(cats)))
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createCategoryRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		s.write(w, r, BadRequestError(err.Error()))
		return
	}

	c := core.Category{Name: sanitizeInput(req.Name), Photo: core.ParsePhotoRef(strings.TrimSpace(req.Photo))}
	err := s.expenses.CreateCategory(ctx, c)
	switch {
	case errors.Is(err, core.ErrDuplicateCategory):
		s.write(w, r, ConflictError("Category already exists"))
		return
	case errors.Is(err, core.ErrEmptyCategoryName):
		s.write(w, r, UnprocessableEntityError("Category name is required"))
		return
	case err != nil:
		s.requestLogger(r).ErrorContext(ctx, "Category create error", log.NewFields().
			WithError(err).
			WithOperation(log.OpCreate).
			ToSlice()...)
		s.write(w, r, InternalServerError("Could not save"))
		return
	}
	s.write(w, r, NewResponse().Status(http.StatusCreated).JSON(categoryJSON{Name: c.Name, Photo: c.Photo.String()}))
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := sanitizeInput(r.PathValue("name"))
	if name == "" {
		s.write(w, r, BadRequestError("Category name is required"))
		return
	}

	if err := s.expenses.DeleteCategory(ctx, name); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			s.write(w, r, NotFoundError("Category not found"))
			return
		}
		s.requestLogger(r).ErrorContext(ctx, "Category delete error", log.FieldError, err.Error(), log.FieldCategory, name)
		s.write(w, r, InternalServerError("Could not delete"))
		return
	}
	s.write(w, r, NewResponse().Status(http.StatusNoContent))
}
