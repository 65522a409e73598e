package contract

import (
	"strings"
	"time"
)

type Protocol string

const (
	ProtocolStructured     Protocol = "structured"
	ProtocolConversational Protocol = "conversational"
)

func (p Protocol) Valid() bool {
	return p == ProtocolStructured || p == ProtocolConversational
}

// NormalizedResult is what every adapter returns for one remote operation.
type NormalizedResult struct {
	Success   bool      `json:"success"`
	Protocol  Protocol  `json:"protocol"`
	Operation string    `json:"operation"`
	Data      any       `json:"data,omitempty"`
	Text      string    `json:"text,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Raw       any       `json:"-"`
}

// Failed builds the result for a failed call. The error is still returned
// separately by adapters.
func Failed(protocol Protocol, operation string, err error) NormalizedResult {
	return NormalizedResult{
		Protocol:  protocol,
		Operation: operation,
		ErrorKind: KindOf(err),
		Error:     err.Error(),
	}
}

// ConversationReply is the answer of a natural-language exchange.
type ConversationReply struct {
	Text      string           `json:"text"`
	Extracted []map[string]any `json:"extracted,omitempty"`
	ContextID string           `json:"context_id,omitempty"`
}

// HasData reports whether any structured payload could be extracted.
func (r ConversationReply) HasData() bool {
	return len(r.Extracted) > 0
}

// Result wraps the reply as the outcome of operation. A single extracted
// object becomes the data; several become a list.
func (r ConversationReply) Result(operation string) NormalizedResult {
	res := NormalizedResult{
		Success:   true,
		Protocol:  ProtocolConversational,
		Operation: operation,
		Text:      r.Text,
		Raw:       r,
	}
	switch len(r.Extracted) {
	case 0:
	case 1:
		res.Data = r.Extracted[0]
	default:
		items := make([]any, 0, len(r.Extracted))
		for _, d := range r.Extracted {
			items = append(items, d)
		}
		res.Data = items
	}
	return res
}

/* ------------------------------ identity ------------------------------ */

// BuyerIdentity is the revealed buyer identity. Tier resolution lives in
// the pricing package.
type BuyerIdentity struct {
	SeatID         string `json:"seat_id,omitempty" envconfig:"SEAT_ID"`
	SeatName       string `json:"seat_name,omitempty" envconfig:"SEAT_NAME"`
	AgencyID       string `json:"agency_id,omitempty" envconfig:"AGENCY_ID"`
	AgencyName     string `json:"agency_name,omitempty" envconfig:"AGENCY_NAME"`
	AdvertiserID   string `json:"advertiser_id,omitempty" envconfig:"ADVERTISER_ID"`
	AdvertiserName string `json:"advertiser_name,omitempty" envconfig:"ADVERTISER_NAME"`
}

func (b BuyerIdentity) Normalize() BuyerIdentity {
	return BuyerIdentity{
		SeatID:         strings.TrimSpace(b.SeatID),
		SeatName:       strings.TrimSpace(b.SeatName),
		AgencyID:       strings.TrimSpace(b.AgencyID),
		AgencyName:     strings.TrimSpace(b.AgencyName),
		AdvertiserID:   strings.TrimSpace(b.AdvertiserID),
		AdvertiserName: strings.TrimSpace(b.AdvertiserName),
	}
}

// Headers returns the identity headers sent to sellers.
func (b BuyerIdentity) Headers() map[string]string {
	b = b.Normalize()
	out := make(map[string]string, 5)
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("X-DSP-Seat-ID", b.SeatID)
	set("X-Agency-ID", b.AgencyID)
	set("X-Agency-Name", b.AgencyName)
	set("X-Advertiser-ID", b.AdvertiserID)
	set("X-Advertiser-Name", b.AdvertiserName)
	return out
}

// Key is a stable identifier of the most specific revealed party.
func (b BuyerIdentity) Key() string {
	b = b.Normalize()
	switch {
	case b.AdvertiserID != "" && b.AgencyID != "":
		return b.AgencyID + "/" + b.AdvertiserID
	case b.AgencyID != "":
		return b.AgencyID
	case b.SeatID != "":
		return b.SeatID
	default:
		return "public"
	}
}

type PricingTier int

const (
	TierPublic PricingTier = iota
	TierSeat
	TierAgency
	TierAdvertiser
)

func (t PricingTier) String() string {
	switch t {
	case TierPublic:
		return "public"
	case TierSeat:
		return "seat"
	case TierAgency:
		return "agency"
	case TierAdvertiser:
		return "advertiser"
	default:
		return "unknown"
	}
}

// ParseTier accepts the lowercase tier names used in policy files.
func ParseTier(s string) (PricingTier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return TierPublic, true
	case "seat":
		return TierSeat, true
	case "agency":
		return TierAgency, true
	case "advertiser":
		return TierAdvertiser, true
	default:
		return TierPublic, false
	}
}

// CanNegotiate reports whether the tier may propose its own price.
func (t PricingTier) CanNegotiate() bool {
	return t >= TierAgency
}

/* ---------------------------- OpenDirect ------------------------------ */

type Product struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name,omitempty"`
	PublisherID          string    `json:"publisherId,omitempty"`
	Channel              string    `json:"channel,omitempty"`
	BaseCPM              float64   `json:"basePrice"`
	FloorCPM             float64   `json:"floorPrice,omitempty"`
	RateType             string    `json:"rateType,omitempty"`
	DeliveryType         string    `json:"deliveryType,omitempty"`
	Targeting            []string  `json:"targeting,omitempty"`
	AvailableImpressions int64     `json:"availableImpressions,omitempty"`
	AvailableFrom        time.Time `json:"availableFrom,omitzero"`
	AvailableTo          time.Time `json:"availableTo,omitzero"`
}

// AvailableDuring reports whether the availability window covers the flight.
// Zero bounds are open.
func (p Product) AvailableDuring(f Flight) bool {
	if !p.AvailableFrom.IsZero() && f.Start.Before(p.AvailableFrom) {
		return false
	}
	if !p.AvailableTo.IsZero() && f.End.After(p.AvailableTo) {
		return false
	}
	return true
}

type Account struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	AdvertiserID string `json:"advertiserId"`
	Type         string `json:"type,omitempty"`
}

type Order struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	AccountID string  `json:"accountId"`
	Budget    float64 `json:"budget"`
	StartDate string  `json:"startDate"`
	EndDate   string  `json:"endDate"`
	Status    string  `json:"orderStatus,omitempty"`
}

type LineBookingStatus string

const (
	LineDraft    LineBookingStatus = "Draft"
	LineReserved LineBookingStatus = "Reserved"
	LineBooked   LineBookingStatus = "Booked"
	LineCanceled LineBookingStatus = "Cancelled"
)

type Line struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	OrderID       string            `json:"orderId"`
	ProductID     string            `json:"productId"`
	Quantity      int64             `json:"quantity"`
	StartDate     string            `json:"startDate"`
	EndDate       string            `json:"endDate"`
	BookingStatus LineBookingStatus `json:"bookingStatus,omitempty"`
}

type Creative struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AccountID string `json:"accountId"`
	AdFormat  string `json:"adFormat"`
	URL       string `json:"creativeUrl,omitempty"`
}

type Assignment struct {
	ID         string `json:"id"`
	CreativeID string `json:"creativeId"`
	LineID     string `json:"lineId"`
}

/* -------------------------------- deals ------------------------------- */

type DealType string

const (
	DealProgrammaticGuaranteed DealType = "PG"
	DealPreferred              DealType = "PD"
	DealPrivateAuction         DealType = "PA"
)

func (d DealType) Valid() bool {
	switch d {
	case DealProgrammaticGuaranteed, DealPreferred, DealPrivateAuction:
		return true
	default:
		return false
	}
}

func (d DealType) Label() string {
	switch d {
	case DealProgrammaticGuaranteed:
		return "Programmatic Guaranteed (PG)"
	case DealPreferred:
		return "Preferred Deal (PD)"
	case DealPrivateAuction:
		return "Private Auction (PA)"
	default:
		return string(d)
	}
}

type Flight struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (f Flight) IsZero() bool {
	return f.Start.IsZero() && f.End.IsZero()
}

type Deal struct {
	ID          string            `json:"id"`
	Type        DealType          `json:"type"`
	ProductID   string            `json:"product_id"`
	Tier        string            `json:"tier"`
	PriceCPM    float64           `json:"price_cpm"`
	ListCPM     float64           `json:"list_cpm"`
	Impressions int64             `json:"impressions,omitempty"`
	Flight      Flight            `json:"flight"`
	Activation  map[string]string `json:"activation"`
	IssuedAt    time.Time         `json:"issued_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

/* ------------------------------ audience ------------------------------ */

type SignalType string

const (
	SignalIdentity      SignalType = "identity"
	SignalContextual    SignalType = "contextual"
	SignalReinforcement SignalType = "reinforcement"
)

type SimilarityMetric string

const (
	MetricCosine SimilarityMetric = "cosine"
	MetricDot    SimilarityMetric = "dot"
	MetricL2     SimilarityMetric = "l2"
)

func (m SimilarityMetric) Valid() bool {
	return m == MetricCosine || m == MetricDot || m == MetricL2
}

type ModelDescriptor struct {
	ID        string           `json:"id"`
	Version   string           `json:"version"`
	Dimension int              `json:"dimension"`
	Metric    SimilarityMetric `json:"metric"`
}

type Consent struct {
	Framework       string   `json:"framework"`
	PermissibleUses []string `json:"permissible_uses,omitempty"`
	TTLSeconds      int      `json:"ttl_seconds,omitempty"`
	Token           string   `json:"token,omitempty"`
}

type AudienceEmbedding struct {
	Vector     []float64       `json:"vector"`
	Dimension  int             `json:"dimension"`
	SignalType SignalType      `json:"signal_type"`
	Model      ModelDescriptor `json:"model_descriptor"`
	Consent    *Consent        `json:"consent,omitempty"`
}

// Dim prefers the declared dimension and falls back to the vector length.
func (e AudienceEmbedding) Dim() int {
	if e.Dimension > 0 {
		return e.Dimension
	}
	return len(e.Vector)
}

// AudienceCapability is one seller-published audience segment.
type AudienceCapability struct {
	ID         string            `json:"capability_id"`
	Name       string            `json:"name,omitempty"`
	SignalType SignalType        `json:"signal_type"`
	Tags       []string          `json:"tags,omitempty"`
	Embedding  AudienceEmbedding `json:"embedding"`
}

type AudienceRequirement struct {
	Demographics map[string]string    `json:"demographics,omitempty"`
	Interests    []string             `json:"interests,omitempty"`
	Behaviors    []string             `json:"behaviors,omitempty"`
	Channels     []string             `json:"channels,omitempty"`
	Embeddings   map[string][]float64 `json:"embeddings,omitempty"`
	ConsentToken string               `json:"consent_token,omitempty"`
}

type DimensionMatch struct {
	Dimension    string  `json:"dimension"`
	CapabilityID string  `json:"capability_id"`
	Similarity   float64 `json:"similarity"`
}

type ValidationStatus string

const (
	StatusValid        ValidationStatus = "valid"
	StatusPartialMatch ValidationStatus = "partial_match"
	StatusNoMatch      ValidationStatus = "no_match"
)

type CoverageEstimate struct {
	Coverage     float64            `json:"coverage"`
	ByChannel    map[string]float64 `json:"by_channel,omitempty"`
	Matches      []DimensionMatch   `json:"matches,omitempty"`
	Gaps         []string           `json:"gaps"`
	Alternatives []string           `json:"alternatives,omitempty"`
	BestScore    float64            `json:"best_score"`
	Status       ValidationStatus   `json:"status"`
	Compatible   bool               `json:"compatible"`
}

/* ------------------------------- actions ------------------------------ */

type ActionClass string

const (
	ActionDeterministic ActionClass = "deterministic"
	ActionExploratory   ActionClass = "exploratory"
)

// Action is one request routed by the orchestrator. Name is an operation
// of the structured catalog; Text carries a free-text query.
type Action struct {
	Name    string         `json:"name,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Text    string         `json:"text,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

func (a Action) Class() ActionClass {
	if strings.TrimSpace(a.Name) == "" && strings.TrimSpace(a.Text) != "" {
		return ActionExploratory
	}
	return ActionDeterministic
}

// Intent is the structured reading of a free-text request.
type Intent struct {
	Operation  string         `json:"operation"`
	Args       map[string]any `json:"args,omitempty"`
	Confidence float64        `json:"confidence"`
	Reply      string         `json:"reply,omitempty"`
}
