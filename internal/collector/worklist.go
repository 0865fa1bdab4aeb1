package collector

// DefaultWorklist returns the built-in product search terms, grouped by
// store section. Every market in a run is queried for the same list.
func DefaultWorklist() []string {
	return []string{
		// Mercearia (alimentos básicos e secos)
		"arroz", "arroz integral", "arroz parboilizado", "feijão", "feijão preto", "feijão carioca",
		"açúcar", "açúcar demerara", "açúcar mascavo", "adoçante", "sal", "sal grosso",
		"óleo", "óleo de soja", "óleo de girassol", "óleo de milho", "azeite", "vinagre",
		"café", "café em pó", "café solúvel", "filtro de café", "farinha de trigo", "farinha de mandioca",
		"farinha de rosca", "fubá", "amido de milho", "macarrão", "massa para lasanha",
		"molho de tomate", "extrato de tomate", "milho", "ervilha", "seleta de legumes",
		"atum", "sardinha", "maionese", "ketchup", "mostarda", "caldo", "tempero",
		// Hortifrúti
		"alho", "cebola", "batata", "tomate", "cenoura", "pimentão", "abobrinha",
		"batata doce", "mandioca", "aipim", "beterraba", "chuchu", "pepino",
		"alface", "couve", "repolho", "brócolis", "espinafre", "rúcula", "salsa", "cebolinha",
		"banana", "maçã", "laranja", "limão", "mamão", "melão", "melancia",
		"abacaxi", "manga", "uva", "morango", "pera", "abacate", "ovos",
		// Açougue
		"carne bovina", "bife", "carne moída", "picanha", "alcatra", "contra filé", "coxão mole",
		"músculo", "acém", "paleta", "costela", "hambúrguer", "frango", "peito de frango",
		"coxa de frango", "sobrecoxa", "asa de frango", "linguiça", "linguiça toscana",
		"linguiça calabresa", "carne de porco", "bisteca suína", "lombo suíno", "pernil",
		// Frios e laticínios
		"presunto", "queijo", "queijo mussarela", "queijo prato", "queijo minas", "requeijão",
		"mortadela", "salame", "peito de peru", "leite", "leite integral", "leite desnatado",
		"leite condensado", "creme de leite", "iogurte", "manteiga", "margarina",
		// Padaria e matinais
		"pão", "pão de forma", "pão francês", "bisnaguinha", "torrada", "bolo",
		"cereal", "granola", "aveia", "achocolatado", "nescau", "toddy",
		// Biscoitos, snacks e doces
		"biscoito", "bolacha", "cream cracker", "biscoito recheado", "salgadinho",
		"batata palha", "amendoim", "chocolate", "barra de cereal", "doce", "goiabada",
		"gelatina",
		// Bebidas
		"refrigerante", "coca cola", "guaraná", "suco", "suco em pó", "água", "água mineral",
		"água com gás", "cerveja", "vinho", "energético", "chá",
		// Higiene pessoal
		"sabonete", "shampoo", "condicionador", "creme dental", "pasta de dente",
		"escova de dente", "fio dental", "desodorante", "papel higiênico",
		"absorvente", "fralda", "lenço umedecido",
		// Limpeza
		"sabão em pó", "sabão líquido", "amaciante", "detergente", "água sanitária",
		"desinfetante", "multiuso", "limpa vidro", "esponja de aço", "saco de lixo",
		"papel toalha",
		// Pet shop
		"ração para cão", "ração para gato", "areia para gato",
	}
}
