package services

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/cart/internal/domain"
)

const (
	maxNotesLength      = 500
	maxAttributes       = 10
	maxAttributeLength  = 64
	maxAddressFieldSize = 200
)

var (
	last4Pattern = regexp.MustCompile(`^[0-9]{4}$`)

	// allowedPaymentDetails maps a folded detail key to the name it is stored under.
	allowedPaymentDetails = map[string]string{
		"last4":          "last4",
		"brand":          "brand",
		"bankname":       "bankName",
		"accountholder":  "accountHolder",
		"walletaddress":  "walletAddress",
		"walletprovider": "walletProvider",
	}
)

// AggregateOptions wires the collaborators every aggregate needs.
type AggregateOptions struct {
	Pricer        *PricingEngine
	Clock         func() time.Time
	IDGenerator   func() string
	NoteSanitizer func(string) string
	// RevokeCouponBelowMinimum drops an applied coupon when the subtotal later falls under its floor.
	RevokeCouponBelowMinimum bool
}

// AddressPatch merge-patches an address; nil fields are left untouched.
type AddressPatch struct {
	Recipient  *string
	Phone      *string
	Address    *string
	Address2   *string
	City       *string
	State      *string
	PostalCode *string
	Country    *string
}

// IsEmpty reports whether the patch carries no fields.
func (p AddressPatch) IsEmpty() bool {
	return p.Recipient == nil && p.Phone == nil && p.Address == nil && p.Address2 == nil &&
		p.City == nil && p.State == nil && p.PostalCode == nil && p.Country == nil
}

// CartAggregate is the consistency boundary for one cart. Every mutator validates first,
// mutates only on success, and finishes with recompute.
type CartAggregate struct {
	cart     domain.Cart
	index    map[string]int
	opts     AggregateOptions
	warnings []string
}

// NewCartAggregate starts an empty active cart for userID.
func NewCartAggregate(userID, currency string, ttl time.Duration, opts AggregateOptions) *CartAggregate {
	opts = normaliseAggregateOptions(opts)
	now := opts.Clock()
	cart := domain.Cart{
		ID:             opts.IDGenerator(),
		UserID:         userID,
		Currency:       strings.ToUpper(strings.TrimSpace(currency)),
		Items:          []domain.CartLineItem{},
		ShippingMethod: domain.ShippingMethodStandard,
		Status:         domain.CartStatusActive,
		LastActivity:   now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		cart.ExpiresAt = &expires
	}
	agg := &CartAggregate{cart: cart, opts: opts}
	agg.reindex()
	agg.cart.Summary = opts.Pricer.ComputeSummary(nil, cart.ShippingMethod, nil)
	return agg
}

// LoadCartAggregate wraps a persisted cart.
func LoadCartAggregate(cart domain.Cart, opts AggregateOptions) *CartAggregate {
	agg := &CartAggregate{cart: cloneCart(cart), opts: normaliseAggregateOptions(opts)}
	if agg.cart.ShippingMethod == "" {
		agg.cart.ShippingMethod = domain.ShippingMethodStandard
	}
	agg.reindex()
	return agg
}

func normaliseAggregateOptions(opts AggregateOptions) AggregateOptions {
	if opts.Pricer == nil {
		opts.Pricer, _ = NewPricingEngine(PricingConfig{})
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = func() string { return ulid.Make().String() }
	}
	if opts.NoteSanitizer == nil {
		opts.NoteSanitizer = strings.TrimSpace
	}
	return opts
}

// Cart returns a deep copy of the current state.
func (a *CartAggregate) Cart() domain.Cart {
	return cloneCart(a.cart)
}

// Warnings returns the non-fatal notices produced by the last mutations.
func (a *CartAggregate) Warnings() []string {
	return append([]string(nil), a.warnings...)
}

// IsEmpty reports whether the cart has no line items.
func (a *CartAggregate) IsEmpty() bool {
	return len(a.cart.Items) == 0
}

// IsExpired reports whether the rolling TTL has elapsed at now.
func (a *CartAggregate) IsExpired(now time.Time) bool {
	return a.cart.ExpiresAt != nil && now.After(*a.cart.ExpiresAt)
}

// Item returns the line item with itemID.
func (a *CartAggregate) Item(itemID string) (domain.CartLineItem, bool) {
	idx, ok := a.index[itemID]
	if !ok {
		return domain.CartLineItem{}, false
	}
	return a.cart.Items[idx], true
}

// FindItem returns the line item matching the product and attribute set.
func (a *CartAggregate) FindItem(productID string, attrs []domain.SelectedAttribute) (domain.CartLineItem, bool) {
	key := attributeKey(attrs)
	for _, item := range a.cart.Items {
		if item.ProductID == productID && attributeKey(item.SelectedAttributes) == key {
			return item, true
		}
	}
	return domain.CartLineItem{}, false
}

// ProductIDs lists the distinct products referenced by the line items.
func (a *CartAggregate) ProductIDs() []string {
	seen := make(map[string]struct{}, len(a.cart.Items))
	ids := make([]string, 0, len(a.cart.Items))
	for _, item := range a.cart.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// AddItem appends a line item or merges it into an existing one with the same product and
// attribute set. The captured unit price of an existing line is kept.
func (a *CartAggregate) AddItem(product domain.Product, quantity int, attrs []domain.SelectedAttribute, notes string) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	if quantity < 1 {
		return validationError(CodeInvalidQuantity, "quantity", "quantity must be at least 1")
	}
	attrs, err := normaliseAttributes(attrs)
	if err != nil {
		return err
	}
	notes, err = a.normaliseNotes(notes)
	if err != nil {
		return err
	}
	if !product.IsActive() {
		return productUnavailable(product, "")
	}
	if product.Price < 0 {
		return newCartError(ErrCartInternal, CodeInternal, fmt.Sprintf("catalog returned a negative price for %s", product.ID))
	}

	now := a.opts.Clock()
	existing, found := a.FindItem(product.ID, attrs)
	total := quantity
	if found {
		total += existing.Quantity
	}
	if product.Stock < total {
		return stockError(CodeOutOfStock, product, existing.ID, total)
	}

	a.restoreOnActivity()
	if found {
		item := &a.cart.Items[a.index[existing.ID]]
		item.Quantity = total
		if notes != "" {
			item.Notes = notes
		}
		item.UpdatedAt = now
	} else {
		a.cart.Items = append(a.cart.Items, domain.CartLineItem{
			ID:                 a.opts.IDGenerator(),
			ProductID:          product.ID,
			SellerID:           product.SellerID,
			ProductName:        product.Name,
			Quantity:           quantity,
			UnitPrice:          product.Price,
			SelectedAttributes: attrs,
			Notes:              notes,
			AddedAt:            now,
			UpdatedAt:          now,
		})
		a.reindex()
	}
	a.recompute()
	return nil
}

// UpdateItemQuantity sets the quantity of itemID; a quantity below 1 removes the line.
// product is only consulted when the line survives.
func (a *CartAggregate) UpdateItemQuantity(itemID string, quantity int, product domain.Product) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	idx, ok := a.index[itemID]
	if !ok {
		return itemNotFound(itemID)
	}
	if quantity < 1 {
		a.restoreOnActivity()
		a.removeAt(idx)
		a.recompute()
		return nil
	}
	if product.Stock < quantity {
		return stockError(CodeInsufficientStock, product, itemID, quantity)
	}

	a.restoreOnActivity()
	item := &a.cart.Items[idx]
	item.Quantity = quantity
	item.UpdatedAt = a.opts.Clock()
	a.recompute()
	return nil
}

// RemoveItem deletes the line item with itemID.
func (a *CartAggregate) RemoveItem(itemID string) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	idx, ok := a.index[itemID]
	if !ok {
		return itemNotFound(itemID)
	}
	a.restoreOnActivity()
	a.removeAt(idx)
	a.recompute()
	return nil
}

// Clear empties the line items. Addresses and methods are kept.
func (a *CartAggregate) Clear() error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	a.restoreOnActivity()
	a.cart.Items = []domain.CartLineItem{}
	a.reindex()
	a.recompute()
	return nil
}

// ApplyCoupon replaces the applied coupon after checking expiry and the purchase floor.
func (a *CartAggregate) ApplyCoupon(coupon domain.Coupon) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	if a.IsEmpty() {
		return newCartError(ErrCartState, CodeEmptyCart, "coupons cannot be applied to an empty cart")
	}
	now := a.opts.Clock()
	if coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt) {
		return newCartError(ErrCartState, CodeCouponExpired, fmt.Sprintf("coupon %s has expired", coupon.Code))
	}
	if a.cart.Summary.Subtotal < coupon.MinPurchase {
		return &CartError{
			Kind:    ErrCartState,
			Code:    CodeMinPurchaseNotMet,
			Message: fmt.Sprintf("coupon %s requires a subtotal of at least %d, current subtotal is %d", coupon.Code, coupon.MinPurchase, a.cart.Summary.Subtotal),
		}
	}

	a.restoreOnActivity()
	applied := coupon
	applied.AppliedAt = now
	a.cart.AppliedCoupon = &applied
	a.recompute()
	return nil
}

// RemoveCoupon clears the applied coupon.
func (a *CartAggregate) RemoveCoupon() error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	a.restoreOnActivity()
	a.cart.AppliedCoupon = nil
	a.recompute()
	return nil
}

// UpdateShippingAddress merge-patches the shipping address. A mirrored billing address follows it.
func (a *CartAggregate) UpdateShippingAddress(patch AddressPatch) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	next := applyAddressPatch(a.cart.ShippingAddress, patch)
	if err := validateAddress("shippingAddress", next); err != nil {
		return err
	}

	a.restoreOnActivity()
	a.cart.ShippingAddress = &next
	if a.cart.BillingSameAsShipping {
		mirror := next
		a.cart.BillingAddress = &mirror
	}
	a.recompute()
	return nil
}

// UpdateBillingAddress either mirrors the shipping address (sameAsShipping true) or merge-patches
// an independent billing address. Editing billing fields detaches it from shipping.
func (a *CartAggregate) UpdateBillingAddress(patch AddressPatch, sameAsShipping *bool) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}

	if sameAsShipping != nil && *sameAsShipping {
		if a.cart.ShippingAddress == nil {
			return validationError(CodeMissingShippingAddress, "sameAsShipping", "a shipping address is required before billing can mirror it")
		}
		a.restoreOnActivity()
		mirror := *a.cart.ShippingAddress
		a.cart.BillingAddress = &mirror
		a.cart.BillingSameAsShipping = true
		a.recompute()
		return nil
	}

	if patch.IsEmpty() {
		if sameAsShipping == nil {
			return validationError(CodeMissingAddressFields, "billingAddress", "billing address fields are required")
		}
		// Detach only; the previous mirror stays as the starting point for edits.
		a.restoreOnActivity()
		a.cart.BillingSameAsShipping = false
		a.recompute()
		return nil
	}

	next := applyAddressPatch(a.cart.BillingAddress, patch)
	if err := validateAddress("billingAddress", next); err != nil {
		return err
	}
	a.restoreOnActivity()
	a.cart.BillingAddress = &next
	a.cart.BillingSameAsShipping = false
	a.recompute()
	return nil
}

// UpdateShippingMethod records the delivery choice; the shipping line follows it.
func (a *CartAggregate) UpdateShippingMethod(method domain.ShippingMethod, provider string, eta *time.Time) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	method = domain.ShippingMethod(strings.ToLower(strings.TrimSpace(string(method))))
	if !method.Valid() {
		return validationError(CodeInvalidShippingMethod, "method", fmt.Sprintf("unsupported shipping method %q", method))
	}

	a.restoreOnActivity()
	a.cart.ShippingMethod = method
	a.cart.ShippingProvider = strings.TrimSpace(provider)
	if eta != nil {
		value := eta.UTC()
		a.cart.EstimatedDelivery = &value
	} else {
		a.cart.EstimatedDelivery = nil
	}
	a.recompute()
	return nil
}

// UpdatePaymentMethod records the payment choice. Details merge into the existing blob while the
// method is unchanged and start over when it changes. Only allow-listed, non-secret keys are kept.
func (a *CartAggregate) UpdatePaymentMethod(method domain.PaymentMethod, details map[string]string) error {
	if err := a.ensureMutable(); err != nil {
		return err
	}
	method = domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(method))))
	if !method.Valid() {
		return validationError(CodeInvalidPaymentMethod, "method", fmt.Sprintf("unsupported payment method %q", method))
	}
	accepted := make(map[string]string, len(details))
	for key, value := range details {
		name, ok := allowedPaymentDetails[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			return validationError(CodeForbiddenPaymentDetail, "details."+key, fmt.Sprintf("payment detail %q is not accepted", key))
		}
		if name == "last4" && !last4Pattern.MatchString(strings.TrimSpace(value)) {
			return validationError(CodeForbiddenPaymentDetail, "details.last4", "last4 must be exactly four digits")
		}
		accepted[name] = value
	}

	a.restoreOnActivity()
	merged := map[string]string{}
	if method == a.cart.PaymentMethod {
		for k, v := range a.cart.PaymentDetails {
			merged[k] = v
		}
	}
	for k, v := range accepted {
		v = strings.TrimSpace(v)
		if v == "" {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	if len(merged) == 0 {
		merged = nil
	}
	a.cart.PaymentMethod = method
	a.cart.PaymentDetails = merged
	a.recompute()
	return nil
}

// Validate reports every problem that would block, or that the client should know about before,
// checkout. It never mutates the cart. products is keyed by product ID; absent entries are treated
// as no longer available.
func (a *CartAggregate) Validate(products map[string]domain.Product) []domain.CartIssue {
	issues := a.cartLevelIssues()
	issues = append(issues, a.itemIssues(products, true)...)
	return issues
}

// ConvertToOrder re-validates the cart against the catalog and, on success, returns the checkout
// snapshot and clears items and coupon. The captured unit prices are used.
func (a *CartAggregate) ConvertToOrder(products map[string]domain.Product, handoffID string) (domain.CheckoutSnapshot, error) {
	if a.IsEmpty() {
		return domain.CheckoutSnapshot{}, newCartError(ErrCartState, CodeEmptyCart, "cart has no items")
	}
	if err := a.ensureMutable(); err != nil {
		return domain.CheckoutSnapshot{}, err
	}
	if a.cart.ShippingAddress == nil || strings.TrimSpace(a.cart.ShippingAddress.Address) == "" {
		return domain.CheckoutSnapshot{}, newCartError(ErrCartState, CodeMissingShippingAddress, "a shipping address is required to check out")
	}
	if a.cart.PaymentMethod == "" {
		return domain.CheckoutSnapshot{}, newCartError(ErrCartState, CodeMissingPaymentMethod, "a payment method is required to check out")
	}

	if issues := a.itemIssues(products, false); len(issues) > 0 {
		first := issues[0]
		kind := ErrCartStock
		for _, issue := range issues {
			if issue.Code != CodeInsufficientStock {
				kind = ErrCartState
				break
			}
		}
		return domain.CheckoutSnapshot{}, &CartError{
			Kind:        kind,
			Code:        first.Code,
			ItemID:      first.ItemID,
			ProductID:   first.ProductID,
			ProductName: first.ProductName,
			Requested:   first.Requested,
			Available:   first.Available,
			Message:     first.Message,
			Issues:      issues,
		}
	}

	a.restoreOnActivity()
	now := a.opts.Clock()
	snapshotCart := cloneCart(a.cart)
	snapshot := domain.CheckoutSnapshot{
		HandoffID:         handoffID,
		CartID:            snapshotCart.ID,
		UserID:            snapshotCart.UserID,
		Currency:          snapshotCart.Currency,
		Items:             snapshotCart.Items,
		Summary:           snapshotCart.Summary,
		ShippingAddress:   snapshotCart.ShippingAddress,
		BillingAddress:    snapshotCart.BillingAddress,
		ShippingMethod:    snapshotCart.ShippingMethod,
		ShippingProvider:  snapshotCart.ShippingProvider,
		EstimatedDelivery: snapshotCart.EstimatedDelivery,
		PaymentMethod:     snapshotCart.PaymentMethod,
		PaymentDetails:    snapshotCart.PaymentDetails,
		Coupon:            snapshotCart.AppliedCoupon,
		ConvertedAt:       now,
	}

	a.cart.Items = []domain.CartLineItem{}
	a.cart.AppliedCoupon = nil
	a.cart.Status = domain.CartStatusConverted
	a.cart.ConvertedAt = &now
	a.reindex()
	a.recompute()
	return snapshot, nil
}

// Restore returns an abandoned cart to active. Any other status is rejected.
func (a *CartAggregate) Restore() error {
	if a.cart.Status != domain.CartStatusAbandoned {
		return &CartError{
			Kind:    ErrCartNotFound,
			Code:    CodeNotAbandoned,
			Message: fmt.Sprintf("cart %s is %s, only abandoned carts can be restored", a.cart.ID, a.cart.Status),
		}
	}
	a.cart.Status = domain.CartStatusActive
	a.cart.AbandonedAt = nil
	a.recompute()
	return nil
}

// MarkAbandoned transitions an idle, non-empty active cart to abandoned. LastActivity is not
// touched. It reports whether a transition happened.
func (a *CartAggregate) MarkAbandoned(now time.Time, idleAfter time.Duration) bool {
	if a.cart.Status != domain.CartStatusActive || a.IsEmpty() {
		return false
	}
	if now.Sub(a.cart.LastActivity) <= idleAfter {
		return false
	}
	at := now
	a.cart.Status = domain.CartStatusAbandoned
	a.cart.AbandonedAt = &at
	a.cart.UpdatedAt = now
	return true
}

// Expire moves an open cart whose TTL elapsed into the expired terminal state.
func (a *CartAggregate) Expire(now time.Time) bool {
	if !a.cart.Status.IsOpen() || !a.IsExpired(now) {
		return false
	}
	a.cart.Status = domain.CartStatusExpired
	a.cart.UpdatedAt = now
	return true
}

// PrepareForSave applies the rolling TTL: an active, non-empty cart expires ttl after now.
func (a *CartAggregate) PrepareForSave(now time.Time, ttl time.Duration) {
	if ttl <= 0 || a.cart.Status != domain.CartStatusActive || a.IsEmpty() {
		return
	}
	expires := now.Add(ttl)
	a.cart.ExpiresAt = &expires
}

func (a *CartAggregate) ensureMutable() error {
	switch a.cart.Status {
	case domain.CartStatusActive, domain.CartStatusAbandoned:
		return nil
	default:
		return &CartError{
			Kind:    ErrCartState,
			Code:    CodeCartClosed,
			Message: fmt.Sprintf("cart %s is %s and can no longer change", a.cart.ID, a.cart.Status),
		}
	}
}

// restoreOnActivity treats any owner mutation of an abandoned cart as a resume.
func (a *CartAggregate) restoreOnActivity() {
	if a.cart.Status == domain.CartStatusAbandoned {
		a.cart.Status = domain.CartStatusActive
		a.cart.AbandonedAt = nil
	}
}

func (a *CartAggregate) recompute() {
	a.cart.Summary = a.opts.Pricer.ComputeSummary(a.cart.Items, a.cart.ShippingMethod, a.cart.AppliedCoupon)

	if coupon := a.cart.AppliedCoupon; coupon != nil && a.opts.RevokeCouponBelowMinimum && a.cart.Summary.Subtotal < coupon.MinPurchase {
		a.warnings = append(a.warnings, fmt.Sprintf("coupon %s was removed because the subtotal fell below its minimum purchase of %d", coupon.Code, coupon.MinPurchase))
		a.cart.AppliedCoupon = nil
		a.cart.Summary = a.opts.Pricer.ComputeSummary(a.cart.Items, a.cart.ShippingMethod, nil)
	}

	now := a.opts.Clock()
	a.cart.LastActivity = now
	a.cart.UpdatedAt = now
}

func (a *CartAggregate) cartLevelIssues() []domain.CartIssue {
	var issues []domain.CartIssue
	if a.IsEmpty() {
		issues = append(issues, domain.CartIssue{Code: CodeEmptyCart, Severity: domain.IssueSeverityError, Message: "cart has no items"})
	}
	if a.cart.ShippingAddress == nil || strings.TrimSpace(a.cart.ShippingAddress.Address) == "" {
		issues = append(issues, domain.CartIssue{Code: CodeMissingShippingAddress, Severity: domain.IssueSeverityError, Message: "a shipping address is required to check out"})
	}
	if a.cart.PaymentMethod == "" {
		issues = append(issues, domain.CartIssue{Code: CodeMissingPaymentMethod, Severity: domain.IssueSeverityError, Message: "a payment method is required to check out"})
	}
	return issues
}

func (a *CartAggregate) itemIssues(products map[string]domain.Product, includePriceDrift bool) []domain.CartIssue {
	var issues []domain.CartIssue
	for _, item := range a.cart.Items {
		product, ok := products[item.ProductID]
		if !ok || !product.IsActive() {
			issues = append(issues, domain.CartIssue{
				Code:        CodeProductUnavailable,
				Severity:    domain.IssueSeverityError,
				ItemID:      item.ID,
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				Requested:   item.Quantity,
				Message:     fmt.Sprintf("%s is no longer available", itemName(item)),
			})
			continue
		}
		if product.Stock < item.Quantity {
			issues = append(issues, domain.CartIssue{
				Code:        CodeInsufficientStock,
				Severity:    domain.IssueSeverityError,
				ItemID:      item.ID,
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				Requested:   item.Quantity,
				Available:   product.Stock,
				Message:     fmt.Sprintf("only %d of %s available, %d requested", product.Stock, itemName(item), item.Quantity),
			})
		}
		if includePriceDrift && product.Price != item.UnitPrice {
			issues = append(issues, domain.CartIssue{
				Code:          CodePriceChanged,
				Severity:      domain.IssueSeverityWarning,
				ItemID:        item.ID,
				ProductID:     item.ProductID,
				ProductName:   item.ProductName,
				CapturedPrice: item.UnitPrice,
				CurrentPrice:  product.Price,
				Message:       fmt.Sprintf("price of %s changed from %d to %d", itemName(item), item.UnitPrice, product.Price),
			})
		}
	}
	return issues
}

func (a *CartAggregate) removeAt(idx int) {
	a.cart.Items = append(a.cart.Items[:idx:idx], a.cart.Items[idx+1:]...)
	a.reindex()
}

func (a *CartAggregate) reindex() {
	a.index = make(map[string]int, len(a.cart.Items))
	for i, item := range a.cart.Items {
		a.index[item.ID] = i
	}
}

func (a *CartAggregate) normaliseNotes(notes string) (string, error) {
	notes = a.opts.NoteSanitizer(strings.TrimSpace(notes))
	if utf8.RuneCountInString(notes) > maxNotesLength {
		return "", validationError(CodeInvalidInput, "notes", fmt.Sprintf("notes must be at most %d characters", maxNotesLength))
	}
	return notes, nil
}

// ValidIssues reports whether the issue list contains no blocking entries.
func ValidIssues(issues []domain.CartIssue) bool {
	for _, issue := range issues {
		if issue.Severity != domain.IssueSeverityWarning {
			return false
		}
	}
	return true
}

func normaliseAttributes(attrs []domain.SelectedAttribute) ([]domain.SelectedAttribute, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	if len(attrs) > maxAttributes {
		return nil, validationError(CodeInvalidInput, "selectedAttributes", fmt.Sprintf("at most %d attributes are allowed", maxAttributes))
	}
	out := make([]domain.SelectedAttribute, 0, len(attrs))
	seen := make(map[string]struct{}, len(attrs))
	for _, attr := range attrs {
		name := strings.TrimSpace(attr.Name)
		value := strings.TrimSpace(attr.Value)
		if name == "" || value == "" {
			return nil, validationError(CodeInvalidInput, "selectedAttributes", "attribute name and value are required")
		}
		if len(name) > maxAttributeLength || len(value) > maxAttributeLength {
			return nil, validationError(CodeInvalidInput, "selectedAttributes", "attribute name or value is too long")
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return nil, validationError(CodeInvalidInput, "selectedAttributes", fmt.Sprintf("attribute %q is repeated", name))
		}
		seen[key] = struct{}{}
		out = append(out, domain.SelectedAttribute{Name: name, Value: value})
	}
	return out, nil
}

// attributeKey gives attribute lists with the same (name, value) set the same key regardless of order.
func attributeKey(attrs []domain.SelectedAttribute) string {
	if len(attrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		parts = append(parts, strings.ToLower(strings.TrimSpace(attr.Name))+"="+strings.TrimSpace(attr.Value))
	}
	sort.Strings(parts)
	return strings.Join(parts, "\x1f")
}

func applyAddressPatch(current *domain.Address, patch AddressPatch) domain.Address {
	var next domain.Address
	if current != nil {
		next = *current
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&next.Recipient, patch.Recipient)
	set(&next.Phone, patch.Phone)
	set(&next.Address, patch.Address)
	set(&next.Address2, patch.Address2)
	set(&next.City, patch.City)
	set(&next.State, patch.State)
	set(&next.PostalCode, patch.PostalCode)
	set(&next.Country, patch.Country)
	next.Country = strings.ToUpper(next.Country)
	return next
}

func validateAddress(field string, addr domain.Address) error {
	var missing []string
	if addr.Address == "" {
		missing = append(missing, "address")
	}
	if addr.City == "" {
		missing = append(missing, "city")
	}
	if addr.Country == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return validationError(CodeMissingAddressFields, field, fmt.Sprintf("%s is missing required fields: %s", field, strings.Join(missing, ", ")))
	}
	for _, value := range []string{addr.Recipient, addr.Phone, addr.Address, addr.Address2, addr.City, addr.State, addr.PostalCode, addr.Country} {
		if len(value) > maxAddressFieldSize {
			return validationError(CodeInvalidInput, field, fmt.Sprintf("%s fields must be at most %d characters", field, maxAddressFieldSize))
		}
	}
	return nil
}

func itemName(item domain.CartLineItem) string {
	if item.ProductName != "" {
		return item.ProductName
	}
	return item.ProductID
}

func cloneCart(cart domain.Cart) domain.Cart {
	out := cart
	out.Items = make([]domain.CartLineItem, len(cart.Items))
	for i, item := range cart.Items {
		out.Items[i] = item
		if item.SelectedAttributes != nil {
			out.Items[i].SelectedAttributes = append([]domain.SelectedAttribute(nil), item.SelectedAttributes...)
		}
	}
	if cart.ShippingAddress != nil {
		addr := *cart.ShippingAddress
		out.ShippingAddress = &addr
	}
	if cart.BillingAddress != nil {
		addr := *cart.BillingAddress
		out.BillingAddress = &addr
	}
	if cart.PaymentDetails != nil {
		out.PaymentDetails = make(map[string]string, len(cart.PaymentDetails))
		for k, v := range cart.PaymentDetails {
			out.PaymentDetails[k] = v
		}
	}
	if cart.AppliedCoupon != nil {
		coupon := *cart.AppliedCoupon
		if coupon.MaxDiscount != nil {
			v := *coupon.MaxDiscount
			coupon.MaxDiscount = &v
		}
		if coupon.ExpiresAt != nil {
			v := *coupon.ExpiresAt
			coupon.ExpiresAt = &v
		}
		out.AppliedCoupon = &coupon
	}
	out.EstimatedDelivery = cloneTimePtr(cart.EstimatedDelivery)
	out.AbandonedAt = cloneTimePtr(cart.AbandonedAt)
	out.ConvertedAt = cloneTimePtr(cart.ConvertedAt)
	out.ExpiresAt = cloneTimePtr(cart.ExpiresAt)
	return out
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
