package notification

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"delivery/internal/events"
)

// Message is the human-readable part of a fallback push.
type Message struct {
	Title string
	Body  string
}

var supported = []language.Tag{language.English, language.French}

var texts = map[events.Name]map[language.Tag]Message{
	events.NewDelivery: {
		language.English: {"New delivery", "A delivery request is available near you."},
		language.French:  {"Nouvelle livraison", "Une demande de livraison est disponible près de vous."},
	},
	events.DeliveryAccepted: {
		language.English: {"Driver found", "A driver accepted your delivery."},
		language.French:  {"Livreur trouvé", "Un livreur a accepté votre livraison."},
	},
	events.PointWithdrawn: {
		language.English: {"Points used", "Points were withdrawn from your wallet."},
		language.French:  {"Points débités", "Des points ont été retirés de votre portefeuille."},
	},
	events.DeliveryCancelled: {
		language.English: {"Delivery cancelled", "The delivery was cancelled."},
		language.French:  {"Livraison annulée", "La livraison a été annulée."},
	},
	events.DriverOnSite: {
		language.English: {"Driver on site", "The driver is at the pickup point."},
		language.French:  {"Livreur sur place", "Le livreur est au point de départ."},
	},
	events.DeliveryStarted: {
		language.English: {"Delivery started", "Your package is on its way."},
		language.French:  {"Livraison démarrée", "Votre colis est en route."},
	},
	events.DeliveryEnd: {
		language.English: {"Delivery completed", "Your package was delivered."},
		language.French:  {"Livraison terminée", "Votre colis a été livré."},
	},
	events.DeliveryExpired: {
		language.English: {"Delivery expired", "No driver accepted your delivery in time."},
		language.French:  {"Livraison expirée", "Aucun livreur n'a accepté votre livraison à temps."},
	},
	events.NewConflict: {
		language.English: {"Problem reported", "A problem was reported on your delivery."},
		language.French:  {"Problème signalé", "Un problème a été signalé sur votre livraison."},
	},
	events.NewAssignment: {
		language.English: {"New assignment", "You were assigned to take over a delivery."},
		language.French:  {"Nouvelle affectation", "Vous avez été affecté pour reprendre une livraison."},
	},
	events.ConflictSolved: {
		language.English: {"Conflict solved", "The conflict you assigned was solved."},
		language.French:  {"Conflit résolu", "Le conflit que vous avez affecté est résolu."},
	},
	events.ConflictCancelled: {
		language.English: {"Conflict closed", "The reported problem was dismissed, the delivery resumes."},
		language.French:  {"Conflit clôturé", "Le problème signalé a été classé, la livraison reprend."},
	},
}

// Catalog localizes fallback push messages.
type Catalog struct {
	matcher  language.Matcher
	fallback language.Tag
	cat      catalog.Catalog
}

// NewCatalog builds the message catalog. defaultLang is used when a user has
// no preference or an unsupported one.
func NewCatalog(defaultLang string) *Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for name, byLang := range texts {
		for tag, m := range byLang {
			_ = b.SetString(tag, titleKey(name), m.Title)
			_ = b.SetString(tag, bodyKey(name), m.Body)
		}
	}

	c := &Catalog{
		matcher:  language.NewMatcher(supported),
		fallback: language.English,
		cat:      b,
	}
	c.fallback = c.resolve(defaultLang)
	return c
}

// Message returns the localized message for an event in lang.
func (c *Catalog) Message(name events.Name, lang string) Message {
	tag := c.resolve(lang)

	if _, ok := texts[name]; !ok {
		return Message{Title: string(name)}
	}

	p := message.NewPrinter(tag, message.Catalog(c.cat))
	return Message{
		Title: p.Sprintf(titleKey(name)),
		Body:  p.Sprintf(bodyKey(name)),
	}
}

// resolve picks the supported language closest to lang, or the fallback.
func (c *Catalog) resolve(lang string) language.Tag {
	if lang == "" {
		return c.fallback
	}
	parsed, err := language.Parse(lang)
	if err != nil {
		return c.fallback
	}
	_, idx, conf := c.matcher.Match(parsed)
	if conf == language.No {
		return c.fallback
	}
	return supported[idx]
}

func titleKey(n events.Name) string { return string(n) + ".title" }
func bodyKey(n events.Name) string  { return string(n) + ".body" }
