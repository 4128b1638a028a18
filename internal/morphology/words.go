package morphology

var closedClassWords = map[string][]string{
	"english": {
		// articles and determiners
		"a", "an", "the", "this", "that", "these", "those",
		// prepositions
		"about", "above", "across", "after", "against", "along", "among", "around", "at",
		"before", "behind", "below", "beneath", "beside", "between", "beyond", "by",
		"down", "during", "except", "for", "from", "in", "inside", "into", "near", "of",
		"off", "on", "onto", "out", "outside", "over", "past", "since", "through",
		"throughout", "till", "to", "toward", "towards", "under", "underneath", "until",
		"up", "upon", "with", "within", "without", "via",
		// conjunctions
		"and", "but", "or", "nor", "so", "yet", "although", "because", "if", "unless",
		"whereas", "whether", "while", "though", "than", "as",
		// particles
		"not", "no", "yes", "just", "only", "also", "too", "very",
		// interjections
		"ah", "aha", "alas", "eh", "hey", "hi", "hmm", "oh", "oops", "ouch", "uh", "um",
		"wow", "ok", "okay",
	},
	"russian": {
		// предлоги
		"без", "в", "во", "для", "до", "за", "из", "изо", "к", "ко", "между", "на", "над",
		"надо", "о", "об", "обо", "около", "от", "ото", "перед", "передо", "по", "под",
		"подо", "при", "про", "ради", "с", "со", "сквозь", "среди", "у", "через", "вокруг",
		"возле", "после", "против", "кроме", "вместо", "вдоль", "мимо", "вне",
		// союзы
		"а", "и", "или", "но", "да", "что", "чтобы", "как", "когда", "если", "хотя",
		"либо", "тоже", "также", "зато", "однако", "потому", "поэтому", "будто", "ни",
		"пока", "раз", "словно",
		// частицы
		"не", "же", "ли", "бы", "вот", "вон", "даже", "лишь", "только", "уже", "ещё",
		"еще", "ведь", "разве", "неужели", "пусть", "пускай", "именно", "почти",
		// междометия
		"ах", "ох", "эх", "ой", "ай", "ого", "увы", "ура", "эй", "ну", "ага", "угу", "фу",
	},
}
