// Package fallback produces deterministic local recommendations when every
// generation lane has failed. It matches the request against a keyword table
// and always returns a complete three-category response at zero cost.
package fallback

import (
	"log"
	"strings"
	"time"

	"github.com/stacks-ai/stacks/pkg/models"
)

// BackendTag marks responses assembled locally rather than generated.
const BackendTag = "emergency_fallback"

type book struct {
	title  string
	author string
	why    string
}

type mapping struct {
	keywords []string
	books    []book
}

// Curated picks for common franchise and genre queries. Order matters; the
// first matching keyword wins.
var mappings = []mapping{
	{
		keywords: []string{"x-files", "x files", "aliens", "ufo", "paranormal", "conspiracy"},
		books: []book{
			{"The Illuminatus! Trilogy", "Robert Shea & Robert Anton Wilson", "Conspiracy theories and paranormal mysteries like X-Files"},
			{"Area 51", "Annie Jacobsen", "Government secrets and alien conspiracy investigations"},
			{"Communion", "Whitley Strieber", "Classic alien encounter narrative with mystery elements"},
		},
	},
	{
		keywords: []string{"walking dead", "zombies", "apocalypse", "survival"},
		books: []book{
			{"The Stand", "Stephen King", "Post-apocalyptic survival like The Walking Dead"},
			{"World War Z", "Max Brooks", "Zombie apocalypse survival guide"},
			{"The Road", "Cormac McCarthy", "Father-son survival in post-apocalyptic world"},
		},
	},
	{
		keywords: []string{"harry potter", "magic", "wizards", "fantasy school"},
		books: []book{
			{"The Name of the Wind", "Patrick Rothfuss", "Magic school and coming-of-age like Harry Potter"},
			{"The Magicians", "Lev Grossman", "Dark magic school for adults"},
			{"A Wizard of Earthsea", "Ursula K. Le Guin", "Classic wizard school tale"},
		},
	},
	{
		keywords: []string{"game of thrones", "got", "medieval", "dragons", "political"},
		books: []book{
			{"The Way of Kings", "Brandon Sanderson", "Epic fantasy with political intrigue"},
			{"The First Law Trilogy", "Joe Abercrombie", "Dark medieval fantasy with complex characters"},
			{"The Lies of Locke Lamora", "Scott Lynch", "Political scheming and betrayal"},
		},
	},
	{
		keywords: []string{"breaking bad", "crime", "drugs", "chemistry"},
		books: []book{
			{"The Power of the Dog", "Don Winslow", "Drug cartel empire building like Breaking Bad"},
			{"American Gangster", "Mark Jacobson", "True crime drug empire story"},
			{"The Godfather", "Mario Puzo", "Criminal empire and family dynamics"},
		},
	},
	{
		keywords: []string{"stranger things", "80s", "kids", "supernatural", "mystery"},
		books: []book{
			{"IT", "Stephen King", "Kids facing supernatural horror in the 80s"},
			{"The Institute", "Stephen King", "Children with powers in secret facility"},
			{"Paper Girls", "Brian K. Vaughan", "80s kids on supernatural adventure"},
		},
	},
	{
		keywords: []string{"star wars", "space", "sci-fi", "space opera"},
		books: []book{
			{"Dune", "Frank Herbert", "Epic space opera with mystical powers"},
			{"The Expanse Series", "James S.A. Corey", "Space politics and adventure"},
			{"Foundation", "Isaac Asimov", "Galactic empire and rebellion"},
		},
	},
	{
		keywords: []string{"funny", "comedy", "humor", "laugh"},
		books: []book{
			{"The Hitchhiker's Guide to the Galaxy", "Douglas Adams", "Hilarious sci-fi comedy adventure"},
			{"Good Omens", "Terry Pratchett & Neil Gaiman", "Witty supernatural comedy"},
			{"Bossypants", "Tina Fey", "Laugh-out-loud memoir"},
		},
	},
	{
		keywords: []string{"romance", "love", "relationship"},
		books: []book{
			{"The Seven Husbands of Evelyn Hugo", "Taylor Jenkins Reid", "Epic romance spanning decades"},
			{"Beach Read", "Emily Henry", "Witty contemporary romance"},
			{"Me Before You", "Jojo Moyes", "Emotional love story"},
		},
	},
	{
		keywords: []string{"detective", "thriller"},
		books: []book{
			{"Gone Girl", "Gillian Flynn", "Psychological thriller with twists"},
			{"The Girl with the Dragon Tattoo", "Stieg Larsson", "Dark mystery investigation"},
			{"Big Little Lies", "Liane Moriarty", "Mystery with complex characters"},
		},
	},
	{
		keywords: []string{"die hard", "action", "explosion", "hostage", "heist"},
		books: []book{
			{"The Bourne Identity", "Robert Ludlum", "Non-stop action thriller like Die Hard"},
			{"Without Remorse", "Tom Clancy", "Military action with high stakes"},
			{"The Gray Man", "Mark Greaney", "Elite operative against impossible odds"},
		},
	},
	{
		keywords: []string{"terminator", "robot", "ai", "skynet", "cyborg"},
		books: []book{
			{"Robopocalypse", "Daniel H. Wilson", "AI uprising like Terminator"},
			{"Do Androids Dream of Electric Sheep?", "Philip K. Dick", "Classic android hunter story"},
			{"The Machine Stops", "E.M. Forster", "Humanity dependent on machines"},
		},
	},
	{
		keywords: []string{"matrix", "simulation", "virtual reality", "red pill"},
		books: []book{
			{"Neuromancer", "William Gibson", "Cyberpunk reality-bending like The Matrix"},
			{"Snow Crash", "Neal Stephenson", "Virtual reality metaverse adventure"},
			{"Ready Player One", "Ernest Cline", "Virtual world becomes reality"},
		},
	},
	{
		keywords: []string{"john wick", "assassin", "hitman", "revenge"},
		books: []book{
			{"The Killer", "Luc Jacamon", "Professional assassin like John Wick"},
			{"The Day of the Jackal", "Frederick Forsyth", "Master assassin thriller"},
			{"Point of Impact", "Stephen Hunter", "Sniper seeking revenge"},
		},
	},
	{
		keywords: []string{"mission impossible", "spy", "espionage", "covert"},
		books: []book{
			{"The Spy Who Came in from the Cold", "John le Carré", "Classic espionage thriller"},
			{"Red Sparrow", "Jason Matthews", "Modern spy thriller with double agents"},
			{"I Am Pilgrim", "Terry Hayes", "Epic spy thriller across continents"},
		},
	},
}

var defaults = []book{
	{"The Midnight Library", "Matt Haig", "Explores infinite possibilities and choices"},
	{"Project Hail Mary", "Andy Weir", "Science adventure with humor and heart"},
	{"Klara and the Sun", "Kazuo Ishiguro", "Beautiful story about connection and humanity"},
}

func match(input string) []book {
	lower := strings.ToLower(input)
	for _, m := range mappings {
		for _, kw := range m.keywords {
			if strings.Contains(lower, kw) {
				log.Printf("fallback: matched keyword %q for input %q", kw, input)
				return m.books
			}
		}
	}
	log.Printf("fallback: no keyword match for %q, using defaults", input)
	return defaults
}

// Recommend assembles a deterministic response for the input. It never
// fails and reports zero cost.
func Recommend(input string) *models.Recommendations {
	picks := match(input)

	books := make([]models.Book, len(picks))
	for i, b := range picks {
		books[i] = models.Book{
			Title:          b.title,
			Author:         b.author,
			WhyYoullLikeIt: b.why,
			Summary:        b.why,
		}
	}

	// One curated pick per core category. The tables always hold three.
	categories := []models.Category{
		{
			Name:        "The Plot",
			Description: "Books with similar storylines and narrative structure",
		},
		{
			Name:        "The Characters",
			Description: "Books with compelling character development and relationships",
		},
		{
			Name:        "The Atmosphere",
			Description: "Books with similar mood, setting, and emotional tone",
		},
	}
	for i := range categories {
		if i < len(books) {
			categories[i].Books = []models.Book{books[i]}
		} else {
			categories[i].Books = []models.Book{books[0]}
		}
	}

	return &models.Recommendations{
		Theme:      "Emergency recommendations for \"" + input + "\"",
		Categories: categories,
		Input:      input,
		CreatedAt:  time.Now().UTC(),
		Cost:       0,
		Backends:   []string{BackendTag},
	}
}
