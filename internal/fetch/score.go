package fetch

import "strings"

var intentBaseScores = map[string]int{
	"pain":      100,
	"search":    75,
	"objection": 50,
}

var urgencyWords = []string{
	"urgent", "urgente", "immediately", "inmediato",
	"need", "necesito", "help", "ayuda", "problem", "problema",
}

// ScoreRelevance ranks an artifact for downstream triage: a base score
// by intent tag plus bonuses for substantive titles, bodies and urgency
// wording, capped at 150. Unknown tags score a low base.
func ScoreRelevance(tag, title, body string) int {
	score, ok := intentBaseScores[tag]
	if !ok {
		score = 10
	}

	switch titleLen := len(strings.TrimSpace(title)); {
	case titleLen > 50:
		score += 10
	case titleLen > 30:
		score += 5
	}

	switch bodyLen := len(strings.TrimSpace(body)); {
	case bodyLen > 200:
		score += 15
	case bodyLen > 100:
		score += 10
	case bodyLen > 50:
		score += 5
	}

	text := strings.ToLower(title + " " + body)
	for _, w := range urgencyWords {
		if strings.Contains(text, w) {
			score += 5
		}
	}

	if score > 150 {
		score = 150
	}
	return score
}
