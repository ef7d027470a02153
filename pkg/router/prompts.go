package router

import "fmt"

// buildCompactPrompt is the short prompt used by the quick lane. It asks for
// the same structure with minimal instruction overhead so a fast model can
// answer inside the quick lane's budget.
func buildCompactPrompt(input string) string {
	return fmt.Sprintf(`Recommend books for a reader who wants: %q

Return ONLY JSON, no other text:
{"overallTheme":"One sentence","categories":[
 {"name":"The Plot","description":"Books with similar storylines","books":[{"title":"","author":"","isbn":"","whyYoullLikeIt":"","summary":""}]},
 {"name":"The Characters","description":"Books with compelling characters","books":[...]},
 {"name":"The Atmosphere","description":"Books with similar mood and setting","books":[...]}
]}

Use exactly those 3 category names in that order. 2 books per category, all fields filled.`, input)
}

// buildPrompt is the full recommendation prompt used by the quality lane.
func buildPrompt(input string) string {
	return fmt.Sprintf(`Based on the user wanting books like %q, create exactly 3 categories of recommendations.

Return ONLY this JSON structure with NO additional text:
{
  "overallTheme": "One sentence summary",
  "categories": [
    {
      "name": "The Plot",
      "description": "Books with similar storylines and narrative structure",
      "books": [
        {
          "title": "Book Title",
          "author": "Author Name",
          "isbn": "ISBN-13 if known",
          "year": "publication year",
          "whyYoullLikeIt": "Natural, compelling description that explains the book's appeal without repetitive phrasing",
          "summary": "Brief plot summary for book details section",
          "pageCount": "estimated pages",
          "publisher": "publisher if known"
        }
      ]
    },
    {
      "name": "The Characters",
      "description": "Books with compelling character development and relationships",
      "books": [...]
    },
    {
      "name": "The Atmosphere",
      "description": "Books with similar mood, setting, and emotional tone",
      "books": [...]
    }
  ]
}

CRITICAL: You MUST use exactly these 3 category names in this exact order:
1. "The Plot" - for similar storylines, narrative structure, plot devices
2. "The Characters" - for character-driven stories, relationships, character development
3. "The Atmosphere" - for mood, setting, tone, emotional feeling

Include 2-3 books per category with rich, detailed "whyYoullLikeIt" descriptions.`, input)
}

// buildSimplifiedPrompt is the stripped-down prompt used for the quality
// lane's retry and for the emergency lane. Smaller responses validate more
// reliably under tight token caps.
func buildSimplifiedPrompt(input string) string {
	return fmt.Sprintf(`You are a book recommendation expert. The user wants: %q

CRITICAL: You MUST return a JSON response with EXACTLY this structure:

{
  "overallTheme": "Brief description of recommendations",
  "categories": [
    {
      "name": "The Plot",
      "description": "Books with similar storylines",
      "books": [
        {
          "title": "Book Title",
          "author": "Author Name",
          "whyYoullLikeIt": "Explanation of why this matches the user's request",
          "summary": "Brief book summary"
        }
      ]
    },
    {
      "name": "The Characters",
      "description": "Books with compelling characters",
      "books": [
        {
          "title": "Book Title",
          "author": "Author Name",
          "whyYoullLikeIt": "Explanation of why this matches the user's request",
          "summary": "Brief book summary"
        }
      ]
    },
    {
      "name": "The Atmosphere",
      "description": "Books with similar mood and setting",
      "books": [
        {
          "title": "Book Title",
          "author": "Author Name",
          "whyYoullLikeIt": "Explanation of why this matches the user's request",
          "summary": "Brief book summary"
        }
      ]
    }
  ]
}

Requirements:
- Include 2-3 books per category
- Each category MUST have at least 1 book
- All fields (title, author, whyYoullLikeIt, summary) are required
- Return ONLY the JSON, no other text`, input)
}
