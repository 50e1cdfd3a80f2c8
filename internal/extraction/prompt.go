package extraction

import "fmt"

const categoryDefinitions = `Extrais UNIQUEMENT les termes appartenant aux 3 hiérarchies SNOMED CT ciblées :

1. CLINICAL FINDING (constatations cliniques) :
   - symptômes observés (ex : éruption cutanée, prurit)
   - signes cliniques (ex : lésions vésiculeuses)
   - diagnostics établis (ex : varicelle)
   - états pathologiques

2. PROCEDURE (interventions et procédures) :
   - traitements administrés (ex : antihistaminique oral)
   - soins médicaux (ex : soins locaux)
   - recommandations thérapeutiques (ex : éviction scolaire)
   - actes médicaux

3. BODY STRUCTURE (structures corporelles) :
   - parties anatomiques mentionnées (ex : membres, tronc)
   - organes, régions corporelles

EXCLURE : contexte familial sans lien clinique, informations administratives, expositions.`

const extractionSchema = `Format JSON requis :
{
  "terms": [
    {
      "term": "terme médical exact tel qu'écrit dans la note",
      "category": "clinical_finding | procedure | body_structure",
      "code": "code SNOMED CT numérique",
      "negation": "positive | negative",
      "family": "patient | family",
      "certainty": "confirmed | suspected",
      "recency": "current | history"
    }
  ]
}

Règles pour les modificateurs :
- negation : "positive" si présent, "negative" si absent ou nié
- family : "patient" pour le patient, "family" pour un antécédent familial
- certainty : "confirmed" si certain, "suspected" si suspecté
- recency : "current" si actuel, "history" si antécédent

Assigne un code SNOMED CT distinct et approprié à chaque terme.
Exemples : varicelle 38907003, éruption cutanée 271807003, membres 445662006.`

func buildPrompt(note string) string {
	return fmt.Sprintf(
		"Dans un contexte éducatif de classification médicale, analyse cette note clinique :\n\n%s\n\n%s\n\n%s\n\nRetourne uniquement le JSON.",
		note,
		categoryDefinitions,
		extractionSchema,
	)
}
