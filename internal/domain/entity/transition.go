package entity

import (
	"fmt"
	"time"

	"github.com/DioGolang/BookingSaga/internal/domain/message"
)

// Environment carries everything a transition may read besides the saga and
// the input. Keeping it explicit makes Decide a pure, re-evaluable function.
type Environment struct {
	Policy   Policy
	Now      time.Time
	NewToken func() string
}

// Decision is the outcome of one input: the next snapshot plus the side
// effects to persist with it.
type Decision struct {
	Saga     *BookingSaga
	Commands []message.Command
	Schedule []message.Timeout
	Cancel   []string
	Path     []Status
}

// Begin creates a saga from a BookingRequested event and initiates payment.
func Begin(evt message.BookingRequested, env Environment) (*Decision, error) {
	if err := validateRequest(evt); err != nil {
		return nil, err
	}
	saga := &BookingSaga{
		CorrelationID: evt.CorrelationID,
		Status:        StatusCreated,
		BookingID:     evt.BookingID,
		InvoiceID:     evt.InvoiceID,
		CustomerID:    evt.CustomerID,
		CraftsmanID:   evt.CraftsmanID,
		CustomerEmail: evt.CustomerEmail,
		Description:   evt.Description,
		Address:       evt.Address,
		ScheduledDate: cloneTime(evt.ScheduledDate),
		Amount:        evt.Amount,
		Currency:      evt.Currency,
		CreatedAt:     env.Now,
		UpdatedAt:     env.Now,
	}
	t := newTransition(saga, env)
	if err := t.moveTo(StatusPaymentInitiated); err != nil {
		return nil, err
	}
	stamp(&saga.PaymentInitiatedAt, env.Now)
	t.emit(t.initiatePaymentCommand())
	t.arm(message.StepPayment)
	return t.d, nil
}

// Decide computes the next snapshot for evt without mutating s.
func (s *BookingSaga) Decide(evt message.Event, env Environment) (*Decision, error) {
	if s.Status.IsTerminal() {
		return nil, ErrSagaTerminal
	}
	if _, ok := evt.(message.BookingRequested); ok {
		return nil, ErrEventNotApplicable
	}
	t := newTransition(s.Clone(), env)
	if err := stateFor(s.Status).Handle(t, evt); err != nil {
		return nil, err
	}
	t.saga.UpdatedAt = env.Now
	return t.d, nil
}

func validateRequest(evt message.BookingRequested) error {
	switch {
	case evt.CorrelationID == "":
		return ErrCorrelationIDRequired
	case evt.BookingID == "":
		return ErrBookingIDRequired
	case evt.CustomerID == "":
		return ErrCustomerIDRequired
	case evt.Amount <= 0:
		return ErrAmountMustBePos
	case evt.Currency == "":
		return ErrCurrencyRequired
	}
	return nil
}

type transition struct {
	saga *BookingSaga
	env  Environment
	d    *Decision
}

func newTransition(saga *BookingSaga, env Environment) *transition {
	return &transition{saga: saga, env: env, d: &Decision{Saga: saga}}
}

func (t *transition) moveTo(next Status) error {
	if !CanTransition(t.saga.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, t.saga.Status, next)
	}
	t.saga.Status = next
	t.d.Path = append(t.d.Path, next)
	return nil
}

func (t *transition) emit(cmds ...message.Command) {
	t.d.Commands = append(t.d.Commands, cmds...)
}

func (t *transition) tokenField(step message.Step) *string {
	switch step {
	case message.StepPayment:
		return &t.saga.PaymentTimeoutToken
	case message.StepBookingConfirmation:
		return &t.saga.BookingConfirmationTimeoutToken
	default:
		return &t.saga.CompensationTimeoutToken
	}
}

func (t *transition) timeoutFor(step message.Step) time.Duration {
	switch step {
	case message.StepPayment:
		return t.env.Policy.PaymentTimeout
	case message.StepBookingConfirmation:
		return t.env.Policy.BookingConfirmationTimeout
	default:
		return t.env.Policy.CompensationTimeout
	}
}

// arm replaces whatever token is active with a fresh one for step.
func (t *transition) arm(step message.Step) {
	t.disarmAll()
	token := t.env.NewToken()
	*t.tokenField(step) = token
	t.d.Schedule = append(t.d.Schedule, message.Timeout{
		Token:         token,
		CorrelationID: t.saga.CorrelationID,
		Step:          step,
		Deadline:      t.env.Now.Add(t.timeoutFor(step)),
	})
}

func (t *transition) disarmAll() {
	for _, step := range []message.Step{message.StepPayment, message.StepBookingConfirmation, message.StepCompensation} {
		field := t.tokenField(step)
		if *field == "" {
			continue
		}
		t.dropToken(*field)
		*field = ""
	}
}

// dropToken cancels a token, or forgets it when it was armed by this very
// decision and never left the process.
func (t *transition) dropToken(token string) {
	for i, sched := range t.d.Schedule {
		if sched.Token == token {
			t.d.Schedule = append(t.d.Schedule[:i], t.d.Schedule[i+1:]...)
			return
		}
	}
	t.d.Cancel = append(t.d.Cancel, token)
}

func (t *transition) matchTimeout(evt message.TimeoutExpired, step message.Step) error {
	if evt.Step != step || evt.Token == "" || evt.Token != *t.tokenField(step) {
		return ErrStaleTimeout
	}
	return nil
}

// matchAttempt drops a failure report for a command that has since been
// retried. Attempt numbers are the retry count plus one; zero is unknown.
func matchAttempt(reported, retries int) error {
	if reported != 0 && reported != retries+1 {
		return ErrStaleFailure
	}
	return nil
}

func (t *transition) recordPayment(evt message.PaymentCompleted) error {
	if t.saga.PaymentID != "" && evt.PaymentID != "" && evt.PaymentID != t.saga.PaymentID {
		return ErrPaymentMismatch
	}
	if evt.PaymentID != "" {
		t.saga.PaymentID = evt.PaymentID
	}
	t.saga.PaymentReference = evt.Reference
	stamp(&t.saga.PaymentCompletedAt, t.env.Now)
	return nil
}

func (t *transition) retryPayment(reason string) error {
	if t.saga.PaymentRetryCount >= t.env.Policy.MaxPaymentRetries {
		return t.failPayment(reason+": retries exhausted", PointPaymentOutstanding)
	}
	t.saga.PaymentRetryCount++
	if err := t.moveTo(StatusPaymentInitiated); err != nil {
		return err
	}
	t.emit(t.initiatePaymentCommand())
	t.arm(message.StepPayment)
	return nil
}

func (t *transition) failPayment(reason string, point FailurePoint) error {
	t.disarmAll()
	t.saga.FailureReason = reason
	if err := t.moveTo(StatusPaymentFailed); err != nil {
		return err
	}
	return t.compensate(point)
}

func (t *transition) completeBooking() error {
	t.disarmAll()
	stamp(&t.saga.BookingConfirmedAt, t.env.Now)
	if err := t.moveTo(StatusBookingConfirmed); err != nil {
		return err
	}
	t.emit(t.confirmationNotificationCommand())
	stamp(&t.saga.CompletedAt, t.env.Now)
	return t.moveTo(StatusCompleted)
}

func (t *transition) retryConfirmation(reason string) error {
	if t.saga.BookingConfirmationRetryCount >= t.env.Policy.MaxBookingConfirmationRetries {
		return t.failConfirmation(reason + ": retries exhausted")
	}
	t.saga.BookingConfirmationRetryCount++
	if err := t.moveTo(StatusBookingConfirming); err != nil {
		return err
	}
	t.emit(t.confirmBookingCommand())
	t.arm(message.StepBookingConfirmation)
	return nil
}

func (t *transition) failConfirmation(reason string) error {
	t.disarmAll()
	t.saga.FailureReason = reason
	if err := t.moveTo(StatusBookingConfirmationFailed); err != nil {
		return err
	}
	return t.compensate(PointBookingConfirmation)
}

func (t *transition) cancel(reason string, point FailurePoint) error {
	if reason == "" {
		reason = "cancelled on request"
	}
	t.saga.FailureReason = reason
	return t.compensate(point)
}

// compensate plans and emits the reversals, notifies the customer and waits
// for acknowledgements under the compensation timeout.
func (t *transition) compensate(point FailurePoint) error {
	t.disarmAll()
	if err := t.moveTo(StatusCompensating); err != nil {
		return err
	}
	plan := PlanCompensation(point, *t.saga)
	t.emit(plan.Commands...)
	if plan.Pending.Has(ReversalRefund) {
		t.saga.RefundIssued = true
	}
	t.saga.PendingReversals = plan.Pending
	t.emit(t.failureNotificationCommand())
	if plan.Pending == 0 {
		return t.finishCompensation()
	}
	t.arm(message.StepCompensation)
	return nil
}

func (t *transition) acknowledge(rev Reversal) error {
	if !t.saga.PendingReversals.Has(rev) {
		return ErrEventNotApplicable
	}
	t.saga.PendingReversals &^= rev
	if t.saga.PendingReversals == 0 {
		return t.finishCompensation()
	}
	return t.moveTo(StatusCompensating)
}

func (t *transition) finishCompensation() error {
	if t.saga.Status != StatusCompensating {
		return fmt.Errorf("%w: compensation completed outside %s", ErrInvalidStateTransition, StatusCompensating)
	}
	t.disarmAll()
	t.saga.CompensationCompleted = true
	stamp(&t.saga.CancelledAt, t.env.Now)
	return t.moveTo(StatusCancelled)
}

// retryCompensation re-emits every pending reversal, not only the one that
// failed, so all outstanding compensation commands share the latest attempt.
func (t *transition) retryCompensation(kind message.FailureKind, reason string, failed Reversal) error {
	if failed&t.saga.PendingReversals == 0 {
		return ErrEventNotApplicable
	}
	which := t.saga.PendingReversals
	if kind == message.FailureBusiness || t.saga.CompensationRetryCount >= t.env.Policy.MaxCompensationRetries {
		return t.failCompensation(reason)
	}
	t.saga.CompensationRetryCount++
	if err := t.moveTo(StatusCompensating); err != nil {
		return err
	}
	if which.Has(ReversalRefund) {
		t.emit(refundCommand(*t.saga))
	}
	if which.Has(ReversalCancelBooking) {
		t.emit(cancelBookingCommand(*t.saga))
	}
	t.arm(message.StepCompensation)
	return nil
}

// failCompensation parks the saga for manual intervention.
func (t *transition) failCompensation(reason string) error {
	t.disarmAll()
	t.saga.FailureReason = "compensation failed: " + reason
	stamp(&t.saga.FailedAt, t.env.Now)
	return t.moveTo(StatusFailed)
}

// refundLatePayment handles a capture that lands after compensation began.
func (t *transition) refundLatePayment(evt message.PaymentCompleted) error {
	if t.saga.PaymentRecorded() {
		return ErrEventNotApplicable
	}
	if err := t.recordPayment(evt); err != nil {
		return err
	}
	if err := t.moveTo(StatusCompensating); err != nil {
		return err
	}
	if !t.saga.RefundIssued {
		t.emit(refundCommand(*t.saga))
		t.saga.RefundIssued = true
		t.saga.PendingReversals |= ReversalRefund
	}
	t.arm(message.StepCompensation)
	return nil
}

func (t *transition) initiatePaymentCommand() message.InitiatePayment {
	s := t.saga
	return message.InitiatePayment{
		CorrelationID: s.CorrelationID,
		BookingID:     s.BookingID,
		RecipientID:   s.CraftsmanID,
		CustomerID:    s.CustomerID,
		Amount:        s.Amount,
		Currency:      s.Currency,
		CustomerEmail: s.CustomerEmail,
		Description:   s.Description,
		CallbackURL:   t.env.Policy.PaymentCallbackURL,
		Attempt:       s.PaymentRetryCount + 1,
	}
}

func (t *transition) confirmBookingCommand() message.ConfirmBooking {
	return message.ConfirmBooking{
		CorrelationID:    t.saga.CorrelationID,
		BookingID:        t.saga.BookingID,
		PaymentID:        t.saga.PaymentID,
		PaymentReference: t.saga.PaymentReference,
		Attempt:          t.saga.BookingConfirmationRetryCount + 1,
	}
}

func (t *transition) confirmationNotificationCommand() message.SendBookingConfirmationNotification {
	s := t.saga
	return message.SendBookingConfirmationNotification{
		CorrelationID:      s.CorrelationID,
		BookingID:          s.BookingID,
		RecipientID:        s.CustomerID,
		CustomerEmail:      s.CustomerEmail,
		ServiceDescription: s.Description,
		ScheduledDate:      cloneTime(s.ScheduledDate),
		Amount:             s.Amount,
		Currency:           s.Currency,
		PaymentReference:   s.PaymentReference,
	}
}

func (t *transition) failureNotificationCommand() message.SendBookingFailureNotification {
	return message.SendBookingFailureNotification{
		CorrelationID: t.saga.CorrelationID,
		BookingID:     t.saga.BookingID,
		CustomerEmail: t.saga.CustomerEmail,
		Reason:        t.saga.FailureReason,
	}
}
